package enrichment

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ttlCache is a mutex-guarded map with per-entry expiry, plus
// golang.org/x/sync/singleflight coalescing of concurrent misses for the
// same key. TTL expiry itself has no equivalent in x/sync, so that part
// is hand-rolled here, grounded in internal/heuristics/address_watchlist.go's
// mutex-guarded map pattern.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	group   singleflight.Group
}

type cacheEntry struct {
	value    any
	storedAt time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, storedAt: time.Now()}
}

// do coalesces concurrent callers for the same key into a single
// invocation of fn via singleflight; every caller observes fn's result.
func (c *ttlCache) do(key string, fn func() (any, error)) (any, error) {
	v, err, _ := c.group.Do(key, fn)
	return v, err
}
