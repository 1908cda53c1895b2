package ports

import "context"

type CycleJob struct {
	ID        string
	SubjectID string
	Attempts  int
}

// JobRepository supports queueing, claiming and completing cycle jobs.
type JobRepository interface {
	EnqueueCycle(ctx context.Context, subjectID string) (jobID string, created bool, err error)
	ClaimNext(ctx context.Context) (job CycleJob, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}
