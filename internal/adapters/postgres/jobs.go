package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kybmon/internal/domain"
	"kybmon/internal/ports"
)

// EnqueueCycle queues a job unless the subject already has one queued or
// running, in which case the pending job's id is returned.
func (db *DB) EnqueueCycle(ctx context.Context, subjectID string) (string, bool, error) {
	id := uuid.NewString()
	err := db.Pool.QueryRow(ctx, `
        INSERT INTO cycle_jobs (id, subject_id)
        VALUES ($1, $2)
        ON CONFLICT (subject_id) WHERE status IN ('queued', 'running') DO NOTHING
        RETURNING id
    `, id, subjectID).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}
	err = db.Pool.QueryRow(ctx, `
        SELECT id FROM cycle_jobs
        WHERE subject_id = $1 AND status IN ('queued', 'running')
    `, subjectID).Scan(&id)
	if err != nil {
		return "", false, err
	}
	return id, false, nil
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
// Running jobs whose lease expired are claimed again.
func (db *DB) ClaimNext(ctx context.Context) (job ports.CycleJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
        SELECT id, subject_id, attempts FROM cycle_jobs
        WHERE status = 'queued'
           OR (status = 'running' AND started_at < now() - make_interval(secs => $1))
        ORDER BY queued_at
        FOR UPDATE SKIP LOCKED
        LIMIT 1
    `, db.jobLease.Seconds()).Scan(&job.ID, &job.SubjectID, &job.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	if _, err = tx.Exec(ctx, `
        UPDATE cycle_jobs SET status = 'running', started_at = now(), attempts = attempts + 1 WHERE id = $1
    `, job.ID); err != nil {
		return job, false, err
	}
	job.Attempts++
	return job, true, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	return db.finishJob(ctx, jobID, "completed", nil)
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return db.finishJob(ctx, jobID, "failed", &reason)
}

func (db *DB) finishJob(ctx context.Context, jobID, status string, reason *string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.Pool.Exec(ctx, `
        UPDATE cycle_jobs SET status = $2, last_error = $3, finished_at = now() WHERE id = $1
    `, jobID, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return nil
}
