package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

// EntryType selects the TTL bucket an entry lives in.
type EntryType string

const (
	TypeDeviceStatus  EntryType = "device_status"
	TypeInventory     EntryType = "inventory"
	TypeConfiguration EntryType = "configuration"
)

// TTLs carries the per-type expiry; hot-reloadable.
type TTLs struct {
	DeviceStatus  time.Duration
	Inventory     time.Duration
	Configuration time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		DeviceStatus:  300 * time.Second,
		Inventory:     86400 * time.Second,
		Configuration: 3600 * time.Second,
	}
}

func (t TTLs) For(typ EntryType) time.Duration {
	switch typ {
	case TypeDeviceStatus:
		return t.DeviceStatus
	case TypeInventory:
		return t.Inventory
	case TypeConfiguration:
		return t.Configuration
	}
	return 300 * time.Second
}

type item struct {
	data     []byte
	typ      EntryType
	storedAt time.Time
}

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	items map[string]item
}

// Cache is a sharded in-process TTL cache. Expired entries are treated
// as misses on access; there is no sweeper. It is never authoritative: a
// miss always falls through to the store at the caller.
type Cache struct {
	mu     sync.RWMutex
	ttls   TTLs
	shards [shardCount]*shard
	now    func() time.Time
}

func New(ttls TTLs) *Cache {
	c := &Cache{ttls: ttls, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]item)}
	}
	return c
}

// SetTTLs applies hot-reloaded TTLs; existing entries are re-judged
// against the new values on their next access.
func (c *Cache) SetTTLs(ttls TTLs) {
	c.mu.Lock()
	c.ttls = ttls
	c.mu.Unlock()
}

func (c *Cache) ttlFor(typ EntryType) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttls.For(typ)
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

func (c *Cache) Get(key string, typ EntryType) ([]byte, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || it.typ != typ {
		return nil, false
	}
	if c.now().Sub(it.storedAt) >= c.ttlFor(typ) {
		// Lazy expiry: drop on access.
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && cur.storedAt.Equal(it.storedAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return it.data, true
}

func (c *Cache) Set(key string, typ EntryType, data []byte) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = item{data: data, typ: typ, storedAt: c.now()}
	s.mu.Unlock()
}

// Invalidate drops entries of the given types, or everything when no
// type is named.
func (c *Cache) Invalidate(types ...EntryType) {
	all := len(types) == 0
	want := make(map[EntryType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	for _, s := range c.shards {
		s.mu.Lock()
		for k, it := range s.items {
			if all || want[it.typ] {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}
