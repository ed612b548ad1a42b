package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCache() (*Cache, *time.Time) {
	now := time.Now()
	c := New(TTLs{
		DeviceStatus:  300 * time.Second,
		Inventory:     86400 * time.Second,
		Configuration: 3600 * time.Second,
	})
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetAfterSetWithinTTL(t *testing.T) {
	c, _ := newTestCache()
	c.Set("dev:1", TypeDeviceStatus, []byte(`{"cpu":12}`))
	got, ok := c.Get("dev:1", TypeDeviceStatus)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"cpu":12}`), got)
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c, now := newTestCache()
	c.Set("dev:1", TypeDeviceStatus, []byte("x"))
	*now = now.Add(301 * time.Second)
	_, ok := c.Get("dev:1", TypeDeviceStatus)
	assert.False(t, ok)
}

func TestPerTypeTTLsAreIndependent(t *testing.T) {
	c, now := newTestCache()
	c.Set("dev:1", TypeDeviceStatus, []byte("s"))
	c.Set("inv:1", TypeInventory, []byte("i"))
	*now = now.Add(600 * time.Second)
	_, ok := c.Get("dev:1", TypeDeviceStatus)
	assert.False(t, ok, "device status should have expired")
	_, ok = c.Get("inv:1", TypeInventory)
	assert.True(t, ok, "inventory TTL is a day, should still hit")
}

func TestTypeMismatchIsAMiss(t *testing.T) {
	c, _ := newTestCache()
	c.Set("k", TypeInventory, []byte("v"))
	_, ok := c.Get("k", TypeConfiguration)
	assert.False(t, ok)
}

func TestInvalidateByType(t *testing.T) {
	c, _ := newTestCache()
	c.Set("a", TypeDeviceStatus, []byte("1"))
	c.Set("b", TypeInventory, []byte("2"))
	c.Invalidate(TypeDeviceStatus)
	_, ok := c.Get("a", TypeDeviceStatus)
	assert.False(t, ok)
	_, ok = c.Get("b", TypeInventory)
	assert.True(t, ok)

	c.Invalidate()
	_, ok = c.Get("b", TypeInventory)
	assert.False(t, ok)
}

func TestHotReloadedTTLApplies(t *testing.T) {
	c, now := newTestCache()
	c.Set("k", TypeDeviceStatus, []byte("v"))
	c.SetTTLs(TTLs{DeviceStatus: 10 * time.Second, Inventory: time.Hour, Configuration: time.Hour})
	*now = now.Add(11 * time.Second)
	_, ok := c.Get("k", TypeDeviceStatus)
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d-%d", n, j)
				c.Set(key, TypeDeviceStatus, []byte("v"))
				c.Get(key, TypeDeviceStatus)
			}
		}(i)
	}
	wg.Wait()
}
