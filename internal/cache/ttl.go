package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	val T
	exp time.Time
}

// TTL is a small in-memory map whose values expire after a fixed duration.
// Expired values are dropped lazily on access and during Set.
type TTL[T any] struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	m   map[string]entry[T]
	now func() time.Time
}

// NewTTL returns a cache holding at most max values (0 = no limit).
func NewTTL[T any](ttl time.Duration, max int) *TTL[T] {
	return &TTL[T]{ttl: ttl, max: max, m: make(map[string]entry[T]), now: time.Now}
}

func (c *TTL[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	ent, ok := c.m[key]
	if !ok {
		return zero, false
	}
	if c.now().After(ent.exp) {
		delete(c.m, key)
		return zero, false
	}
	return ent.val, true
}

func (c *TTL[T]) Set(key string, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.max > 0 && len(c.m) >= c.max {
		c.purgeLocked(now)
		if len(c.m) >= c.max {
			c.evictOldestLocked()
		}
	}
	c.m[key] = entry[T]{val: val, exp: now.Add(c.ttl)}
}

func (c *TTL[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func (c *TTL[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *TTL[T]) purgeLocked(now time.Time) {
	for k, ent := range c.m {
		if now.After(ent.exp) {
			delete(c.m, k)
		}
	}
}

func (c *TTL[T]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, ent := range c.m {
		if first || ent.exp.Before(oldest) {
			oldestKey, oldest, first = k, ent.exp, false
		}
	}
	if !first {
		delete(c.m, oldestKey)
	}
}
