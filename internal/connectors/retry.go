package connectors

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// NewBackoff doubles from base, caps each wait at maxDelay and stops after
// retries further attempts.
func NewBackoff(base, maxDelay time.Duration, retries int) retry.Backoff {
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if maxDelay > 0 {
		b = retry.WithCappedDuration(maxDelay, b)
	}
	return retry.WithMaxRetries(uint64(max(retries, 0)), b)
}

// WithSleeper hands every wait to sleep and reports a zero delay to
// retry.Do. A failed sleep stops the loop.
func WithSleeper(ctx context.Context, sleep func(ctx context.Context, d time.Duration) error, next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		if err := sleep(ctx, d); err != nil {
			return 0, true
		}
		return 0, false
	})
}

// Retrier runs one source call with a per-attempt timeout and retries
// transient failures.
type Retrier struct {
	Source     string
	MaxRetries int
	Base       time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
	// Sleep waits between attempts; nil leaves the wait to retry.Do.
	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(attempt int, err error)
}

// Do calls fn at most MaxRetries+1 times. Non-transient errors return
// immediately; exhausted retries return *UnavailableError wrapping the last
// error.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) (Result, error)) (Result, error) {
	var (
		res       Result
		lastErr   error
		attempts  int
		exhausted bool
	)
	schedule := NewBackoff(r.Base, r.MaxDelay, r.MaxRetries)
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := schedule.Next()
		if stop {
			exhausted = true
			return 0, true
		}
		if r.OnRetry != nil {
			r.OnRetry(attempts, lastErr)
		}
		return d, false
	})
	if r.Sleep != nil {
		b = WithSleeper(ctx, r.Sleep, b)
	}

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		var err error
		res, err = r.call(ctx, fn)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !IsTransient(err):
			return err
		}
		lastErr = err
		return retry.RetryableError(err)
	})
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	case exhausted:
		return Result{}, &UnavailableError{
			Source:    r.Source,
			Transient: true,
			Timeout:   errors.Is(lastErr, context.DeadlineExceeded) || isTimeout(lastErr),
			Attempts:  attempts,
			Err:       lastErr,
		}
	}
	return Result{}, err
}

func (r Retrier) call(ctx context.Context, fn func(ctx context.Context) (Result, error)) (Result, error) {
	if r.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	res, err := fn(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return Result{}, &UnavailableError{Source: r.Source, Transient: true, Timeout: true, Err: err}
	}
	return res, err
}

func isTimeout(err error) bool {
	var uerr *UnavailableError
	if errors.As(err, &uerr) {
		return uerr.Timeout
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
