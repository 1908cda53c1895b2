package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kybmon/internal/adapters/memory"
	"kybmon/internal/domain"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunCycle(ctx context.Context, subjectID string) (CycleResult, error) {
	args := m.Called(subjectID)
	return args.Get(0).(CycleResult), args.Error(1)
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Base:        time.Millisecond,
		MaxDelay:    time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func TestRetryPolicyBounded(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &RetryableError{Err: errors.New("db down")}
	})
	assert.Equal(t, 3, calls)
	var rerr *RetryableError
	assert.ErrorAs(t, err, &rerr)
}

func TestRetryPolicyBackoffSchedule(t *testing.T) {
	var delays []time.Duration
	p := RetryPolicy{
		MaxAttempts: 4,
		Base:        time.Second,
		MaxDelay:    3 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}
	calls := 0
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("db down")
	})
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, delays)
}

func TestRetryPolicyWaitsWithoutSleeper(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, Base: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("blip")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyStopsOnPermanent(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.ErrNotFound
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessInlineRetries(t *testing.T) {
	r := &mockRunner{}
	r.On("RunCycle", "s1").Return(CycleResult{}, &RetryableError{Err: errors.New("blip")}).Once()
	r.On("RunCycle", "s1").Return(CycleResult{SubjectID: "s1", SnapshotsCreated: 2}, nil).Once()

	res, err := ProcessInline(context.Background(), r, fastPolicy(3), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SnapshotsCreated)
	r.AssertExpectations(t)
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	jobs := memory.NewJobs()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"s1", "s2", "bad"} {
		_, _, err := jobs.EnqueueCycle(ctx, id)
		require.NoError(t, err)
	}

	r := &mockRunner{}
	r.On("RunCycle", "s1").Return(CycleResult{}, nil)
	r.On("RunCycle", "s2").Return(CycleResult{}, nil)
	r.On("RunCycle", "bad").Return(CycleResult{}, domain.ErrNotFound)

	logger, _ := test.NewNullLogger()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Run(ctx, jobs, r, PoolConfig{Concurrency: 2, PollInterval: 5 * time.Millisecond, Retry: fastPolicy(2)}, logger)
	}()

	assert.Eventually(t, func() bool {
		c := jobs.Counts()
		return c["completed"] == 2 && c["failed"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()
	r.AssertNumberOfCalls(t, "RunCycle", 3)
}

func TestEnqueueDue(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	store.PutSubject(domain.Subject{ID: "s1", MonitoringEnabled: true, NextCheck: &past})
	store.PutSubject(domain.Subject{ID: "s2", MonitoringEnabled: true})
	jobs := memory.NewJobs()
	logger, _ := test.NewNullLogger()

	n, err := EnqueueDue(context.Background(), store, jobs, now, 100, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = EnqueueDue(context.Background(), store, jobs, now, 100, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "pending jobs are not duplicated")
}
