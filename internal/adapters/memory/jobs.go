package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"kybmon/internal/domain"
	"kybmon/internal/ports"
)

type jobState string

const (
	jobQueued    jobState = "queued"
	jobRunning   jobState = "running"
	jobCompleted jobState = "completed"
	jobFailed    jobState = "failed"
)

type job struct {
	ports.CycleJob
	state  jobState
	reason string
}

// Jobs is a FIFO cycle job queue implementing ports.JobRepository.
type Jobs struct {
	mu   sync.Mutex
	jobs []*job
}

func NewJobs() *Jobs { return &Jobs{} }

func (q *Jobs) EnqueueCycle(_ context.Context, subjectID string) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.SubjectID == subjectID && (j.state == jobQueued || j.state == jobRunning) {
			return j.ID, false, nil
		}
	}
	j := &job{CycleJob: ports.CycleJob{ID: uuid.NewString(), SubjectID: subjectID}, state: jobQueued}
	q.jobs = append(q.jobs, j)
	return j.ID, true, nil
}

func (q *Jobs) ClaimNext(_ context.Context) (ports.CycleJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.state == jobQueued {
			j.state = jobRunning
			j.Attempts++
			return j.CycleJob, true, nil
		}
	}
	return ports.CycleJob{}, false, nil
}

func (q *Jobs) MarkCompleted(_ context.Context, jobID string) error {
	return q.finish(jobID, jobCompleted, "")
}

func (q *Jobs) MarkFailed(_ context.Context, jobID string, reason string) error {
	return q.finish(jobID, jobFailed, reason)
}

func (q *Jobs) finish(jobID string, st jobState, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == jobID {
			j.state = st
			j.reason = reason
			return nil
		}
	}
	return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
}

// Counts reports jobs per state, keyed by state name.
func (q *Jobs) Counts() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[string]int{}
	for _, j := range q.jobs {
		out[string(j.state)]++
	}
	return out
}
