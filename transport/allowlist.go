package transport

import "sync"

// AllowList is the host-global trust list required before a plain channel
// may be opened to a non-domain target. Mutations are always additive and
// tracked, never wildcard or replace, so they can be undone precisely.
// Certificate-only environments plug in the no-op implementation.
type AllowList interface {
	Contains(target string) bool
	Add(target string) error
	// ClearProgrammatic removes exactly the entries this process added.
	ClearProgrammatic() error
	Entries() []string
}

type MemoryAllowList struct {
	mu      sync.RWMutex
	entries map[string]bool // value: added programmatically by us
}

func NewMemoryAllowList(preexisting ...string) *MemoryAllowList {
	m := &MemoryAllowList{entries: make(map[string]bool)}
	for _, e := range preexisting {
		m.entries[e] = false
	}
	return m
}

func (m *MemoryAllowList) Contains(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[target]
	return ok
}

func (m *MemoryAllowList) Add(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[target]; ok {
		return nil
	}
	m.entries[target] = true
	return nil
}

func (m *MemoryAllowList) ClearProgrammatic() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for target, programmatic := range m.entries {
		if programmatic {
			delete(m.entries, target)
		}
	}
	return nil
}

func (m *MemoryAllowList) Entries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for target := range m.entries {
		out = append(out, target)
	}
	return out
}

// NoopAllowList satisfies the interface where no trust list exists.
type NoopAllowList struct{}

func (NoopAllowList) Contains(string) bool     { return true }
func (NoopAllowList) Add(string) error         { return nil }
func (NoopAllowList) ClearProgrammatic() error { return nil }
func (NoopAllowList) Entries() []string        { return nil }
