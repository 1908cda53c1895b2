package connectors

import (
	"context"
	"fmt"
	"time"

	"kybmon/internal/ports"
)

// RateLimiter is a fixed-window request budget per source over a shared
// counter store. One instance is shared by every in-flight check.
type RateLimiter struct {
	store  ports.CounterStore
	prefix string
}

func NewRateLimiter(store ports.CounterStore) *RateLimiter {
	return &RateLimiter{store: store, prefix: "kybmon:ratelimit:"}
}

// Allow consumes one request from the source's current window and reports
// whether the post-increment count is within budget.
func (l *RateLimiter) Allow(ctx context.Context, source string, budget int, window time.Duration) (bool, error) {
	n, err := l.store.Incr(ctx, l.prefix+source, window)
	if err != nil {
		return false, fmt.Errorf("rate limiter %s: %w", source, err)
	}
	return n <= int64(budget), nil
}
