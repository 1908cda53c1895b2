package ports

import (
	"context"
	"time"

	"kybmon/internal/domain"
)

// SubjectRepository reads subjects and writes back schedule/risk state.
type SubjectRepository interface {
	GetSubject(ctx context.Context, id string) (domain.Subject, error)
	// LockSubject serializes units of work for one subject until the
	// surrounding transaction ends.
	LockSubject(ctx context.Context, id string) error
	UpdateSubjectRisk(ctx context.Context, id string, score float64, level domain.RiskLevel, lastChecked, nextCheck time.Time) error
	ListDueSubjects(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// SnapshotRepository stores append-only observations.
type SnapshotRepository interface {
	CreateSnapshot(ctx context.Context, s *domain.Snapshot) error
	// LatestSnapshot returns the newest snapshot of any status.
	LatestSnapshot(ctx context.Context, subjectID string, checkType domain.CheckType) (snap domain.Snapshot, found bool, err error)
	// PreviousSettledSnapshot returns the newest settled snapshot other than excludeID.
	PreviousSettledSnapshot(ctx context.Context, subjectID string, checkType domain.CheckType, excludeID string) (snap domain.Snapshot, found bool, err error)
	// LatestSettledSnapshots returns the newest settled snapshot of each check type.
	LatestSettledSnapshots(ctx context.Context, subjectID string) ([]domain.Snapshot, error)
	// PurgeSnapshots deletes a tenant's snapshots older than cutoff, keeping
	// the newest and the newest settled per (subject, check type).
	PurgeSnapshots(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}

// DiffRepository stores detected changes and their processing state.
type DiffRepository interface {
	CreateDiffs(ctx context.Context, diffs []domain.Diff) error
	// ClaimUnprocessedDiffs locks and returns diffs awaiting alert evaluation.
	ClaimUnprocessedDiffs(ctx context.Context, subjectID string) ([]domain.Diff, error)
	MarkDiffProcessed(ctx context.Context, id string, alertGenerated bool) error
}

// AlertRepository stores alerts.
type AlertRepository interface {
	CreateAlert(ctx context.Context, a *domain.Alert) error
	// GetAlertForUpdate locks the alert row for a state transition.
	GetAlertForUpdate(ctx context.Context, id string) (domain.Alert, error)
	UpdateAlertState(ctx context.Context, a domain.Alert) error
	PurgeClosedAlerts(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}

// ConfigRepository reads tenant monitoring policy.
type ConfigRepository interface {
	GetMonitoringConfig(ctx context.Context, tenantID string) (cfg domain.MonitoringConfig, found bool, err error)
	ListMonitoringConfigs(ctx context.Context) ([]domain.MonitoringConfig, error)
}

// Repositories groups every repository bound to one connection or transaction.
type Repositories interface {
	SubjectRepository
	SnapshotRepository
	DiffRepository
	AlertRepository
	ConfigRepository
}

// Store runs units of work atomically. fn's side effects are rolled back if it
// returns an error.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(tx Repositories) error) error
}
