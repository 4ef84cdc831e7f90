// Package cache provides a small TTL-bounded map used for remote content and
// query embeddings. The clock is injectable so tests can drive expiry
// deterministically.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache maps string keys to values with a wall-clock expiry. Reads of expired
// entries miss; eviction beyond maxSize drops the oldest entry.
type Cache[V any] struct {
	entries map[string]*entry[V]
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source used for storage and expiry checks.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.now = now
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		if _, exists := c.entries[key]; !exists {
			c.evictOldest()
		}
	}
	c.entries[key] = &entry[V]{value: value, storedAt: c.now()}
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
