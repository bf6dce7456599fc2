package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// lruCache wraps hashicorp/golang-lru/v2, the straightforward strategy
// variant.
type lruCache struct {
	mu       sync.Mutex
	inner    *lru.Cache[string, any]
	capacity int
	hits     int64
	misses   int64
}

func newLRUCache(capacity int) *lruCache {
	inner, _ := lru.New[string, any](capacity)
	return &lruCache{inner: inner, capacity: capacity}
}

func (c *lruCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.inner.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

func (c *lruCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, value)
}

func (c *lruCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Contains(key)
}

func (c *lruCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
	c.hits, c.misses = 0, 0
}

func (c *lruCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.inner.Len(), Capacity: c.capacity}
}
