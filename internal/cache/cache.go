package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded LRU cache whose entries expire after a fixed TTL.
// Expired entries are evicted lazily on read.
type TTLCache[V any] struct {
	entries *lru.Cache[string, item[V]]
	ttl     time.Duration
	now     func() time.Time
}

// New constructs a TTLCache holding at most size entries.
func New[V any](size int, ttl time.Duration) (*TTLCache[V], error) {
	entries, err := lru.New[string, item[V]](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &TTLCache[V]{entries: entries, ttl: ttl, now: time.Now}, nil
}

// Set stores a value under key.
func (c *TTLCache[V]) Set(key string, value V) {
	c.entries.Add(key, item[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// Get returns the cached value when present and unexpired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	cached, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(cached.expiresAt) {
		c.entries.Remove(key)
		return zero, false
	}
	return cached.value, true
}

// Delete drops the entry for key, if any.
func (c *TTLCache[V]) Delete(key string) {
	c.entries.Remove(key)
}
