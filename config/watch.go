package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher re-loads the config file on write and pushes the new snapshot
// to subscribers. Only the hot-reloadable knobs (throttle limit, TTLs,
// retry policy, health thresholds, dedup window) take effect live; DB
// settings need a restart.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu   sync.RWMutex
	cur  *Config
	subs []func(*Config)

	fw   *fsnotify.Watcher
	done chan struct{}
}

func NewWatcher(path string, initial *Config, log zerolog.Logger) *Watcher {
	return &Watcher{path: path, cur: initial, log: log, done: make(chan struct{})}
}

// Current returns the latest snapshot; callers must not mutate it.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Subscribe registers a callback invoked with each accepted reload.
func (w *Watcher) Subscribe(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fw = fw
	// Watch the directory: editors replace the file on save.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// A broken edit keeps the previous snapshot in force.
		w.log.Error().Err(err).Str("path", w.path).Msg("config reload rejected")
		return
	}
	w.mu.Lock()
	w.cur = cfg
	subs := append([]func(*Config){}, w.subs...)
	w.mu.Unlock()
	w.log.Info().Str("path", w.path).Msg("config reloaded")
	for _, fn := range subs {
		fn(cfg)
	}
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.fw != nil {
		w.fw.Close()
	}
}
