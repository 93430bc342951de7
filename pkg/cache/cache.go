// Package cache implements a bounded in-memory TTL cache.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	key       string
	expiresAt time.Time // zero means no expiry
	value     V
}

// Cache is an expiring key/value store with a hard capacity bound.
// Expired entries are evicted lazily on read; once full, writes evict in
// insertion order. All methods are safe for concurrent use.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]*entry[V]
	order []string // insertion order, oldest first
	now   func() time.Time
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]*entry[V]),
		now:   time.Now,
	}
}

// NewWithClock creates a cache with an injectable clock for tests.
func NewWithClock[V any](now func() time.Time) *Cache[V] {
	c := New[V]()
	c.now = now
	return c
}

// Get returns the value for key. Expired entries are removed and reported
// as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if !e.expiresAt.IsZero() && e.expiresAt.Before(c.now()) {
		c.remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. A ttl of zero or less means no expiry.
// If maxEntries <= 0 the write is a no-op. When at capacity, expired
// entries are swept first and the oldest insertions evicted until the
// cache is under capacity; after Set returns the cache never holds more
// than maxEntries items.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration, maxEntries int) {
	if maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if _, exists := c.items[key]; exists {
		c.remove(key)
	}

	if len(c.items) >= maxEntries {
		c.sweepExpired(now)
	}
	for len(c.items) >= maxEntries && len(c.order) > 0 {
		c.remove(c.order[0])
	}

	c.items[key] = &entry[V]{key: key, expiresAt: expiresAt, value: value}
	c.order = append(c.order, key)
}

// Len returns the current number of entries, including not-yet-swept
// expired ones.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes all entries.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V])
	c.order = c.order[:0]
}

// remove deletes key from both the map and the order slice. Callers hold the lock.
func (c *Cache[V]) remove(key string) {
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache[V]) sweepExpired(now time.Time) {
	var expired []string
	for k, e := range c.items {
		if !e.expiresAt.IsZero() && e.expiresAt.Before(now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		c.remove(k)
	}
}
