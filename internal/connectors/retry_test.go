package connectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestNewBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 6)
	var got []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		800 * time.Millisecond, time.Second, time.Second,
	}, got)

	_, stop := NewBackoff(time.Millisecond, 0, 0).Next()
	assert.True(t, stop, "zero retries stops immediately")
}

func TestRetrierReportsRetries(t *testing.T) {
	var seen []int
	r := Retrier{
		Source: "vies", MaxRetries: 2, Base: time.Millisecond, Sleep: noSleep,
		OnRetry: func(attempt int, err error) {
			seen = append(seen, attempt)
			assert.Error(t, err)
		},
	}
	_, err := r.Do(context.Background(), func(ctx context.Context) (Result, error) {
		return Result{}, context.DeadlineExceeded
	})
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, StatusTimeout, StatusFor(err))
}

func TestRetrierBoundedOnTransient(t *testing.T) {
	var delays []time.Duration
	r := Retrier{
		Source:     "gleif",
		MaxRetries: 3,
		Base:       10 * time.Millisecond,
		MaxDelay:   time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}
	calls := 0
	transient := &UnavailableError{Source: "gleif", Transient: true, Err: errors.New("connection reset")}
	_, err := r.Do(context.Background(), func(ctx context.Context) (Result, error) {
		calls++
		return Result{}, transient
	})

	assert.Equal(t, 4, calls)
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 4, uerr.Attempts)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, delays)
}

func TestRetrierDoesNotRetryValidation(t *testing.T) {
	r := Retrier{Source: "vies", MaxRetries: 5, Base: time.Millisecond, Sleep: noSleep}
	calls := 0
	_, err := r.Do(context.Background(), func(ctx context.Context) (Result, error) {
		calls++
		return Result{}, &ValidationError{Source: "vies", Identifier: "x", Reason: "bad"}
	})
	assert.Equal(t, 1, calls)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRetrierRecovers(t *testing.T) {
	r := Retrier{Source: "vies", MaxRetries: 2, Base: time.Millisecond, Sleep: noSleep}
	calls := 0
	res, err := r.Do(context.Background(), func(ctx context.Context) (Result, error) {
		calls++
		if calls < 3 {
			return Result{}, context.DeadlineExceeded
		}
		return Result{Status: StatusValid}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StatusValid, res.Status)
}

func TestRetrierPerCallTimeoutIsTransient(t *testing.T) {
	r := Retrier{Source: "de_insolvency", MaxRetries: 1, Base: time.Millisecond, Timeout: 10 * time.Millisecond, Sleep: noSleep}
	calls := 0
	_, err := r.Do(context.Background(), func(ctx context.Context) (Result, error) {
		calls++
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	assert.Equal(t, 2, calls)
	assert.Equal(t, StatusTimeout, StatusFor(err))
}

func TestRetrierStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retrier{Source: "ofac", MaxRetries: 5, Base: time.Millisecond, Sleep: noSleep}
	calls := 0
	_, err := r.Do(ctx, func(ctx context.Context) (Result, error) {
		calls++
		cancel()
		return Result{}, &UnavailableError{Transient: true}
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}
