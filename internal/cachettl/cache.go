// Package cachettl implements the single-key, TTL-expiring cache the
// pool uses to avoid recomputing the current round snapshot and pool
// stats on every request.
package cachettl

import (
	"sync"
	"time"
)

// Cache holds a single cached value of type T that expires ttl after it
// was last Set. Get reports whether the cached value is still fresh.
type Cache[T any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	value   T
	stamped time.Time
	has     bool
}

// New returns a Cache with the given freshness window.
func New[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{ttl: ttl}
}

// Get returns the cached value and true if it exists and has not expired.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	if !c.has || time.Since(c.stamped) > c.ttl {
		return zero, false
	}
	return c.value, true
}

// Set stores v as the cached value, resetting its freshness window.
func (c *Cache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = v
	c.stamped = time.Now()
	c.has = true
}

// GetOrCompute returns the cached value if fresh, otherwise calls fn,
// caches its result, and returns that instead. fn is called at most once
// even if called concurrently is not guaranteed; callers whose fn is
// expensive enough to need that guarantee should add their own
// singleflight in front of this cache.
func (c *Cache[T]) GetOrCompute(fn func() (T, error)) (T, error) {
	if v, ok := c.Get(); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(v)
	return v, nil
}
