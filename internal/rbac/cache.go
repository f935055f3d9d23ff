package rbac

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded in-memory cache with TTL expiry and LRU eviction. One
// component serves every logical cache in the package (role cache, result
// cache) so that eviction and accounting behave identically everywhere.
type Cache[K comparable, V any] struct {
	lru    *lru.LRU[K, V]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// NewCache builds a cache holding at most size entries, each valid for ttl.
func NewCache[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{lru: lru.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the cached value when present and younger than the TTL.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	value, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return value, ok
}

// Set stores a value under key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Remove drops a single entry.
func (c *Cache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

// RemoveFunc drops every entry whose key matches the predicate.
func (c *Cache[K, V]) RemoveFunc(match func(K) bool) {
	for _, key := range c.lru.Keys() {
		if match(key) {
			c.lru.Remove(key)
		}
	}
}

// Purge drops all entries.
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}

// Stats returns the current counters.
func (c *Cache[K, V]) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}

// ResetStats zeroes the hit/miss counters.
func (c *Cache[K, V]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}
