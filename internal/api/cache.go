// internal/api/cache.go
package api

import (
	"sync"
	"time"
)

// cacheEntry is one logical GET request: either in flight (done still open)
// or resolved. Waiters block on done and then share value/err.
type cacheEntry struct {
	done      chan struct{}
	value     []byte
	err       error
	timestamp time.Time
}

// requestCache deduplicates identical GET requests issued within the TTL
// window. Concurrent callers share the in-flight entry; later callers within
// the TTL get the cached resolved value. Stale entries are evicted lazily on
// lookup and by a scheduled sweep.
type requestCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func newRequestCache(ttl time.Duration) *requestCache {
	return &requestCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

// begin returns the live entry for key and whether the caller owns it. The
// owner must resolve the entry via finish; non-owners wait on entry.done.
func (c *requestCache) begin(key string) (*cacheEntry, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && now.Sub(e.timestamp) < c.ttl {
		return e, false
	}

	e := &cacheEntry{
		done:      make(chan struct{}),
		timestamp: now,
	}
	c.entries[key] = e
	return e, true
}

// finish resolves an owned entry. Failed requests are evicted immediately so
// the next caller retries instead of sharing a stale error for the full TTL.
func (c *requestCache) finish(key string, e *cacheEntry, value []byte, err error) {
	e.value = value
	e.err = err
	close(e.done)

	if err != nil {
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
}

// sweep evicts every expired entry and returns how many were removed.
func (c *requestCache) sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.timestamp) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *requestCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
