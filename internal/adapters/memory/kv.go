// Package memory holds in-process implementations of the ports. They back
// tests and single-process runs; state does not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"
)

// Counter is a fixed-window counter store. Expired windows are swept on
// the first increment after the earliest one ends.
type Counter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]counterEntry
	sweepAt time.Time
}

type counterEntry struct {
	n       int64
	expires time.Time
}

func NewCounter() *Counter {
	return &Counter{now: time.Now, entries: map[string]counterEntry{}}
}

// SetClock replaces the time source.
func (c *Counter) SetClock(now func() time.Time) { c.now = now }

func (c *Counter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.sweepAt.IsZero() && !now.Before(c.sweepAt) {
		c.sweep(now)
	}
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expires) {
		e = counterEntry{expires: now.Add(window)}
	}
	e.n++
	c.entries[key] = e
	if c.sweepAt.IsZero() || e.expires.Before(c.sweepAt) {
		c.sweepAt = e.expires
	}
	return e.n, nil
}

func (c *Counter) sweep(now time.Time) {
	c.sweepAt = time.Time{}
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		if c.sweepAt.IsZero() || e.expires.Before(c.sweepAt) {
			c.sweepAt = e.expires
		}
	}
}

// Len reports the number of tracked windows.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cache is a TTL key/value store. Expired entries are swept on the first
// write after the earliest expiry passes.
type Cache struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]cacheEntry
	sweepAt time.Time
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

func NewCache() *Cache {
	return &Cache{now: time.Now, entries: map[string]cacheEntry{}}
}

func (c *Cache) SetClock(now func() time.Time) { c.now = now }

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || (!e.expires.IsZero() && !c.now().Before(e.expires)) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.sweepAt.IsZero() && !now.Before(c.sweepAt) {
		c.sweep(now)
	}
	e := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
		if c.sweepAt.IsZero() || e.expires.Before(c.sweepAt) {
			c.sweepAt = e.expires
		}
	}
	c.entries[key] = e
	return nil
}

func (c *Cache) sweep(now time.Time) {
	c.sweepAt = time.Time{}
	for k, e := range c.entries {
		if e.expires.IsZero() {
			continue
		}
		if !now.Before(e.expires) {
			delete(c.entries, k)
			continue
		}
		if c.sweepAt.IsZero() || e.expires.Before(c.sweepAt) {
			c.sweepAt = e.expires
		}
	}
}

// Len reports the number of stored entries. Expired entries count until the
// next sweep.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
