package remi

import (
	"sync"
	"time"
)

type clock func() time.Time

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// ttlCache memoizes backend objects per key for a fixed window. The window
// runs wall-clock from the last successful set and is not renewed by reads.
type ttlCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     clock
	entries map[string]cacheEntry[T]
}

func newTTLCache[T any](ttl time.Duration, now clock) *ttlCache[T] {
	return &ttlCache[T]{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry[T]),
	}
}

func (c *ttlCache[T]) get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		var zero T
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[T]) set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[T]{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *ttlCache[T]) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
