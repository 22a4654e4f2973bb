package cache

import (
	"context"
	"sync"
	"time"
)

// Item represents a cached item with expiration
type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Expired reports whether the item is past its expiration. A zero
// expiration never expires.
func (item Item[V]) Expired(now time.Time) bool {
	return !item.ExpiresAt.IsZero() && !now.Before(item.ExpiresAt)
}

// Options configures a Cache
type Options struct {
	// TTL is the default expiration; zero keeps items until evicted
	TTL time.Duration
	// MaxItems bounds the cache; the item closest to expiry is evicted first
	MaxItems int
	// Now is the clock; tests replace it
	Now func() time.Time
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[V any] struct {
	mu      sync.RWMutex
	items   map[string]Item[V]
	options Options
}

// New creates a new cache
func New[V any](options Options) *Cache[V] {
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Cache[V]{
		items:   make(map[string]Item[V]),
		options: options,
	}
}

// Set adds an item with the default expiration
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithExpiration(key, value, c.options.TTL)
}

// SetWithExpiration adds an item with a specific expiration
func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	var exp time.Time
	if d > 0 {
		exp = c.options.Now().Add(d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.options.MaxItems > 0 && len(c.items) >= c.options.MaxItems {
		c.evictOldest()
	}
	c.items[key] = Item[V]{Value: value, ExpiresAt: exp}
}

// Get retrieves an unexpired item
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found || item.Expired(c.options.Now()) {
		var zero V
		return zero, false
	}
	return item.Value, true
}

// Delete removes an item
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Flush removes all items
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Item[V])
}

// Count returns the number of items, including expired ones not yet purged
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// DeleteExpired purges expired items and returns how many were removed
func (c *Cache[V]) DeleteExpired() int {
	now := c.options.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, v := range c.items {
		if v.Expired(now) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// StartCleanup purges expired items every interval until ctx is done
func (c *Cache[V]) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.DeleteExpired()
			}
		}
	}()
}

// evictOldest removes the item closest to expiry; items without expiration go last
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true

	for k, v := range c.items {
		if first || (!v.ExpiresAt.IsZero() && (oldest.IsZero() || v.ExpiresAt.Before(oldest))) {
			oldestKey = k
			oldest = v.ExpiresAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
