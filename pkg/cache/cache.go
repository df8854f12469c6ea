// Package cache provides thread-safe caching with TTL support, with
// optional disk persistence for values that survive process restarts.
//
// Ledger reads are never cached anywhere in this codebase; admission
// checks must always see the freshest tracker comments.
package cache

import (
	"sync"
	"time"
)

// cleanupInterval is how often expired in-memory entries are swept.
const cleanupInterval = 5 * time.Minute

type entry struct {
	value      any
	expiration time.Time
}

// Cache provides thread-safe in-memory caching with TTL.
type Cache struct {
	entries map[string]entry
	mu      sync.RWMutex
	ttl     time.Duration
}

// New creates a cache with the given default TTL and starts the
// background sweeper.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
	go c.sweep()
	return c
}

// Get retrieves a value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.RUnlock()
		return nil, false
	}

	if time.Now().After(e.expiration) {
		c.mu.RUnlock()
		c.mu.Lock()
		// Re-check after lock upgrade; another goroutine may have replaced it.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiration) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	value := e.value
	c.mu.RUnlock()
	return value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
}

// sweep periodically removes expired entries.
func (c *Cache) sweep() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, e := range c.entries {
			if now.After(e.expiration) {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}
