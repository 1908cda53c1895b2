package cycle

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"kybmon/internal/connectors"
	"kybmon/internal/domain"
)

// RetryableError marks a cycle failure that a later attempt can fix, such as
// a rolled-back persistence unit.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable cycle failure: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// RetryPolicy is the task-boundary retry applied around RunCycle.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
	// Retryable classifies failures; nil uses DefaultRetryable.
	Retryable func(error) bool
	// Sleep waits between attempts; nil leaves the wait to retry.Do.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: 30 * time.Second, MaxDelay: 10 * time.Minute}
}

// DefaultRetryable retries everything except missing subjects and
// cancellation.
func DefaultRetryable(err error) bool {
	var rerr *RetryableError
	switch {
	case err == nil:
		return false
	case errors.As(err, &rerr):
		return true
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Do runs fn up to MaxAttempts times with exponential backoff between
// retryable failures and returns the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	b := connectors.NewBackoff(p.Base, p.MaxDelay, max(p.MaxAttempts, 1)-1)
	if p.Sleep != nil {
		b = connectors.WithSleeper(ctx, p.Sleep, b)
	}
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
