package sessionpool

import (
	"context"
	"strings"
	"sync"
	"time"

	"fleetward/transport"

	"github.com/rs/zerolog"
)

// session is one negotiated channel plus its holder count. A session
// past TTL is never closed while refs > 0: it is retired instead, and
// the last Release closes it.
type session struct {
	ch        transport.Channel
	createdAt time.Time
	refs      int
}

// entry serializes negotiation per target and keeps the live session
// apart from retired ones still held by in-flight workers.
type entry struct {
	mu      sync.Mutex
	cur     *session
	retired []*session
}

// Pool caches negotiated channels per normalized target. A session is
// valid only while it is younger than the TTL and the channel reports
// itself open; anything else is replaced on the next Acquire, but a
// channel is only ever closed once nobody holds it.
type Pool struct {
	negotiator transport.Negotiator
	ttl        time.Duration
	log        zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func New(negotiator transport.Negotiator, ttl time.Duration, log zerolog.Logger) *Pool {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Pool{
		negotiator: negotiator,
		ttl:        ttl,
		log:        log.With().Str("component", "sessionpool").Logger(),
		entries:    make(map[string]*entry),
	}
}

// SetTTL applies a hot-reloaded TTL to future validity checks.
func (p *Pool) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	p.mu.Lock()
	p.ttl = ttl
	p.mu.Unlock()
}

func normalize(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}

// Acquire returns a live channel for the target, reusing the cached one
// while it is valid and renegotiating otherwise. A stale session that
// still has holders is retired, not closed: its last Release closes it,
// so a worker mid-execute never loses the wire underneath it. Failed
// negotiation caches nothing and surfaces the negotiator's classified
// error.
func (p *Pool) Acquire(ctx context.Context, target string, cred transport.Credential) (transport.Channel, error) {
	key := normalize(target)

	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &entry{}
		p.entries[key] = e
	}
	ttl := p.ttl
	p.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != nil {
		if time.Since(e.cur.createdAt) < ttl && e.cur.ch.Open() {
			e.cur.refs++
			return e.cur.ch, nil
		}
		if e.cur.refs == 0 {
			e.cur.ch.Close()
		} else {
			e.retired = append(e.retired, e.cur)
		}
		e.cur = nil
	}
	ch, err := p.negotiator.Negotiate(ctx, target, cred)
	if err != nil {
		return nil, err
	}
	e.cur = &session{ch: ch, createdAt: time.Now(), refs: 1}
	p.log.Debug().Str("target", key).Str("kind", ch.Kind()).Msg("negotiated channel")
	return ch, nil
}

// Release marks the caller done with the channel it acquired. The live
// session stays cached for reuse; a retired session is closed by its
// last holder.
func (p *Pool) Release(target string, ch transport.Channel) {
	key := normalize(target)
	p.mu.Lock()
	e, ok := p.entries[key]
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != nil && e.cur.ch == ch {
		if e.cur.refs > 0 {
			e.cur.refs--
		}
		return
	}
	for i, s := range e.retired {
		if s.ch != ch {
			continue
		}
		s.refs--
		if s.refs <= 0 {
			s.ch.Close()
			e.retired = append(e.retired[:i], e.retired[i+1:]...)
		}
		return
	}
}

// EvictExpired closes and purges stale or broken idle sessions. A held
// session is skipped; it is revalidated on its next Acquire. Safe to
// run concurrently with Acquire.
func (p *Pool) EvictExpired() int {
	p.mu.Lock()
	ttl := p.ttl
	keys := make([]string, 0, len(p.entries))
	snapshot := make(map[string]*entry, len(p.entries))
	for k, e := range p.entries {
		keys = append(keys, k)
		snapshot[k] = e
	}
	p.mu.Unlock()

	evicted := 0
	for _, k := range keys {
		e := snapshot[k]
		e.mu.Lock()
		if e.cur != nil && e.cur.refs == 0 &&
			(time.Since(e.cur.createdAt) >= ttl || !e.cur.ch.Open()) {
			e.cur.ch.Close()
			e.cur = nil
			evicted++
		}
		empty := e.cur == nil && len(e.retired) == 0
		e.mu.Unlock()
		if empty {
			// Re-check under both locks: an Acquire may have repopulated
			// the entry since we looked.
			p.mu.Lock()
			if cur, ok := p.entries[k]; ok && cur == e {
				e.mu.Lock()
				if e.cur == nil && len(e.retired) == 0 {
					delete(p.entries, k)
				}
				e.mu.Unlock()
			}
			p.mu.Unlock()
		}
	}
	if evicted > 0 {
		p.log.Debug().Int("evicted", evicted).Msg("evicted expired sessions")
	}
	return evicted
}

// Close tears down every cached channel; used on shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()
	for _, e := range entries {
		e.mu.Lock()
		if e.cur != nil {
			e.cur.ch.Close()
			e.cur = nil
		}
		for _, s := range e.retired {
			s.ch.Close()
		}
		e.retired = nil
		e.mu.Unlock()
	}
}
