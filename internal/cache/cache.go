// Package cache provides a small in-process TTL cache for read-side API
// responses. Stored runs are immutable once written, so cached reads never
// serve stale data within the TTL.
package cache

import (
	"sync"
	"time"
)

type item struct {
	data      []byte
	expiresAt time.Time
}

func (i *item) expired() bool { return time.Now().After(i.expiresAt) }

// Cache is a thread-safe byte cache with a fixed TTL per entry.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*item
	ttl   time.Duration
}

// New creates a cache and starts its background sweeper.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		items: make(map[string]*item),
		ttl:   ttl,
	}
	go c.sweep()
	return c
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		for key, it := range c.items {
			if it.expired() {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}

// Get returns the cached bytes for key, or false when absent or expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if it.expired() {
		c.Delete(key)
		return nil, false
	}
	return it.data, true
}

// Set stores data under key with the cache's TTL.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &item{data: data, expiresAt: time.Now().Add(c.ttl)}
}

// Delete removes one entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*item)
}

// Size returns the number of entries currently held, expired ones included.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
