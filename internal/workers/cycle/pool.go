package cycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kybmon/internal/ports"
)

// CycleRunner runs one cycle for a subject.
type CycleRunner interface {
	RunCycle(ctx context.Context, subjectID string) (CycleResult, error)
}

// PoolConfig tunes the background workers.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// TaskTimeout bounds one job including its retries; it must exceed every
	// per-call source timeout.
	TaskTimeout time.Duration
	Retry       RetryPolicy
}

// Run starts worker goroutines that claim cycle jobs and process them. It
// blocks until ctx is cancelled and every in-flight job has finished.
func Run(ctx context.Context, jobs ports.JobRepository, runner CycleRunner, cfg PoolConfig, log logrus.FieldLogger) {
	if cfg.Concurrency < 1 {
		return
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	jobsCh := make(chan ports.CycleJob, cfg.Concurrency)

	// dispatcher loop
	go func() {
		defer close(jobsCh)
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					job, found, err := jobs.ClaimNext(ctx)
					if err != nil {
						if ctx.Err() == nil {
							log.WithError(err).Error("job claim failed")
						}
						break
					}
					if !found {
						break
					}
					select {
					case jobsCh <- job:
					case <-ctx.Done():
						// Unprocessed claims are reclaimed once their lease goes stale.
						return
					}
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			wlog := log.WithField("worker", idx)
			for job := range jobsCh {
				process(ctx, jobs, runner, cfg, job, wlog)
			}
		}(i)
	}
	wg.Wait()
}

func process(ctx context.Context, jobs ports.JobRepository, runner CycleRunner, cfg PoolConfig, job ports.CycleJob, log logrus.FieldLogger) {
	log = log.WithFields(logrus.Fields{"job_id": job.ID, "subject_id": job.SubjectID, "attempts": job.Attempts})
	taskCtx := ctx
	if cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, cfg.TaskTimeout)
		defer cancel()
	}
	err := cfg.Retry.Do(taskCtx, func(ctx context.Context) error {
		_, err := runner.RunCycle(ctx, job.SubjectID)
		if err != nil && DefaultRetryable(err) {
			log.WithError(err).Warn("cycle attempt failed")
		}
		return err
	})
	// Bookkeeping must land even when shutdown cancelled the job.
	bctx := context.WithoutCancel(ctx)
	if err != nil {
		if merr := jobs.MarkFailed(bctx, job.ID, err.Error()); merr != nil {
			log.WithError(merr).Error("mark job failed")
		}
		log.WithError(err).Error("cycle job failed")
		return
	}
	if err := jobs.MarkCompleted(bctx, job.ID); err != nil {
		log.WithError(err).Error("mark job completed")
	}
}

// ProcessInline runs a cycle synchronously under the same retry policy as the
// background workers, bypassing the queue.
func ProcessInline(ctx context.Context, runner CycleRunner, policy RetryPolicy, subjectID string) (CycleResult, error) {
	var res CycleResult
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = runner.RunCycle(ctx, subjectID)
		return err
	})
	return res, err
}

// EnqueueDue queues a cycle job for every subject whose next check is due.
// Subjects that already have a pending job are not queued twice.
func EnqueueDue(ctx context.Context, subjects ports.SubjectRepository, jobs ports.JobRepository, now time.Time, limit int, log logrus.FieldLogger) (int, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ids, err := subjects.ListDueSubjects(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, id := range ids {
		_, created, err := jobs.EnqueueCycle(ctx, id)
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}
	log.WithFields(logrus.Fields{"due": len(ids), "enqueued": enqueued}).Info("due subjects enqueued")
	return enqueued, nil
}
