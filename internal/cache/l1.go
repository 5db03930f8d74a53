package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// entry is an immutable L1 record. TTL is enforced at read time rather than
// by background expiry so an expired entry can still serve an explicit
// stale-allowed read during upstream degradation.
type entry struct {
	cfg        *flag.Config
	insertedAt time.Time
}

// L1 is the in-process tier: a bounded LRU with read-time TTL. The LRU
// structure itself synchronizes promotion and eviction internally; cached
// configs are immutable and shared without copying.
type L1 struct {
	store *lru.Cache[string, *entry]
	ttl   time.Duration
	now   func() time.Time
}

// NewL1 builds the in-process cache. onEvict, when non-nil, observes
// capacity evictions and explicit removals (used for metrics).
func NewL1(maxEntries int, ttl time.Duration, onEvict func(key string)) (*L1, error) {
	var cb func(key string, _ *entry)
	if onEvict != nil {
		cb = func(key string, _ *entry) { onEvict(key) }
	}

	store, err := lru.NewWithEvict[string, *entry](maxEntries, cb)
	if err != nil {
		return nil, err
	}

	return &L1{store: store, ttl: ttl, now: time.Now}, nil
}

// Get returns a fresh entry. Entries past their TTL are reported as misses
// but retained for GetStale; they age out of the LRU by disuse.
func (c *L1) Get(key string) (*flag.Config, bool) {
	e, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		return nil, false
	}
	return e.cfg, true
}

// GetStale returns an entry regardless of TTL. Only the degraded path uses
// it: a CacheEntry is never served past its TTL except during explicit
// stale-allowed degradation.
func (c *L1) GetStale(key string) (*flag.Config, bool) {
	e, ok := c.store.Peek(key)
	if !ok {
		return nil, false
	}
	return e.cfg, true
}

// Set inserts or refreshes an entry.
func (c *L1) Set(key string, cfg *flag.Config) {
	c.store.Add(key, &entry{cfg: cfg, insertedAt: c.now()})
}

// Del removes an entry. Used by the invalidation listener.
func (c *L1) Del(key string) {
	c.store.Remove(key)
}

// Len returns the current number of entries, fresh or stale.
func (c *L1) Len() int {
	return c.store.Len()
}
