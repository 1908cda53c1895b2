package connectors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatchPreservesOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 0, "c": 10 * time.Millisecond}
	results, err := RunBatch(context.Background(), []string{"a", "b", "c"}, BatchOptions{Workers: 3},
		func(ctx context.Context, id string) (Result, error) {
			time.Sleep(delays[id])
			return Result{Identifier: id, Status: StatusValid}, nil
		})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, results[i].Identifier)
	}
}

func TestRunBatchRespectsWorkerCap(t *testing.T) {
	var inFlight, peak int32
	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	_, err := RunBatch(context.Background(), ids, BatchOptions{Workers: 2},
		func(ctx context.Context, id string) (Result, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return Result{Status: StatusValid}, nil
		})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRunBatchCollectsErrorsWithoutFailFast(t *testing.T) {
	boom := errors.New("boom")
	results, err := RunBatch(context.Background(), []string{"ok", "bad", "ok2"}, BatchOptions{Workers: 1},
		func(ctx context.Context, id string) (Result, error) {
			if id == "bad" {
				return Result{Status: StatusUnavailable, Error: boom.Error()}, boom
			}
			return Result{Status: StatusValid}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, StatusValid, results[0].Status)
	assert.Equal(t, StatusUnavailable, results[1].Status)
	assert.Equal(t, "bad", results[1].Identifier)
	assert.Equal(t, StatusValid, results[2].Status)
}

func TestRunBatchFailFastKeepsCompleted(t *testing.T) {
	boom := errors.New("boom")
	ids := []string{"a", "b", "c", "d", "e"}
	results, err := RunBatch(context.Background(), ids, BatchOptions{Source: "vies", Workers: 1, FailFast: true},
		func(ctx context.Context, id string) (Result, error) {
			if id == "b" {
				return Result{Status: StatusUnavailable}, boom
			}
			return Result{Status: StatusValid}, nil
		})
	require.ErrorIs(t, err, boom)
	require.Len(t, results, len(ids))
	assert.Equal(t, StatusValid, results[0].Status, "completed work is kept")
	assert.Equal(t, StatusUnavailable, results[1].Status)
	for _, r := range results[2:] {
		assert.Equal(t, StatusError, r.Status)
		assert.Equal(t, abortedMessage, r.Error)
		assert.Equal(t, "vies", r.Source)
	}
}

func TestRunBatchStagger(t *testing.T) {
	start := time.Now()
	_, err := RunBatch(context.Background(), []string{"a", "b", "c"}, BatchOptions{Workers: 3, Stagger: 20 * time.Millisecond},
		func(ctx context.Context, id string) (Result, error) {
			return Result{Status: StatusValid}, nil
		})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRunBatchEmpty(t *testing.T) {
	results, err := RunBatch(context.Background(), nil, BatchOptions{}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
