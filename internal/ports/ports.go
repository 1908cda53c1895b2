package ports

import (
	"context"
	"time"
)

// CounterStore backs the fixed-window rate limiter. Incr must be atomic and
// set the key's TTL to window when it creates the key.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// CacheStore backs the adapter response cache. Get reports found=false for
// absent or physically expired keys.
type CacheStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
