// Package cycle runs monitoring cycles: one pass over every applicable check
// type of a subject, followed by risk recomputation and rescheduling.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"kybmon/internal/connectors"
	"kybmon/internal/domain"
	"kybmon/internal/observability"
	"kybmon/internal/ports"
	"kybmon/internal/services/alerts"
	"kybmon/internal/services/diffs"
	"kybmon/internal/services/risk"
	"kybmon/internal/services/scheduler"
	"kybmon/internal/services/snapshots"
)

// SourceAdapter is the resilient adapter for one check type.
type SourceAdapter interface {
	CheckSingle(ctx context.Context, identifier string, opts connectors.Options) (connectors.Result, error)
	Normalize(r connectors.Result) map[string]string
}

// CheckOutcome reports one check type of a cycle.
type CheckOutcome struct {
	CheckType       domain.CheckType `json:"check_type"`
	Status          string           `json:"status"`
	SnapshotID      string           `json:"snapshot_id,omitempty"`
	SnapshotCreated bool             `json:"snapshot_created"`
	Diffs           int              `json:"diffs"`
	Alerts          int              `json:"alerts"`
	Error           string           `json:"error,omitempty"`
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	SubjectID        string             `json:"subject_id"`
	Skipped          bool               `json:"skipped,omitempty"`
	CheckTypesRun    []domain.CheckType `json:"check_types_run"`
	SnapshotsCreated int                `json:"snapshots_created"`
	DiffsDetected    int                `json:"diffs_detected"`
	AlertsGenerated  int                `json:"alerts_generated"`
	RiskScore        float64            `json:"risk_score"`
	RiskLevel        domain.RiskLevel   `json:"risk_level"`
	NextCheck        time.Time          `json:"next_check"`
	Outcomes         []CheckOutcome     `json:"outcomes"`
}

// Runner executes cycles. It holds no per-cycle state and is safe for
// concurrent use.
type Runner struct {
	store    ports.Store
	adapters map[domain.CheckType]SourceAdapter
	engine   *diffs.Engine
	alerts   *alerts.Service
	metrics  *observability.Metrics
	log      logrus.FieldLogger
	now      func() time.Time
}

type Option func(*Runner)

func WithDiffEngine(e *diffs.Engine) Option { return func(r *Runner) { r.engine = e } }

func WithMetrics(m *observability.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

func NewRunner(store ports.Store, adapters map[domain.CheckType]SourceAdapter, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		adapters: adapters,
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.engine == nil {
		r.engine = diffs.NewEngine(nil)
	}
	r.alerts = alerts.New(store, r.metrics, r.log)
	return r
}

// RunCycle is idempotent and safe to re-deliver: snapshot content hashes and
// diff processed flags absorb repeated work. Source failures are reported in
// the outcomes; persistence failures roll back their check type and make the
// whole cycle return a *RetryableError after the remaining types have run.
func (r *Runner) RunCycle(ctx context.Context, subjectID string) (CycleResult, error) {
	res := CycleResult{SubjectID: subjectID}
	log := r.log.WithField("subject_id", subjectID)

	subject, err := r.store.GetSubject(ctx, subjectID)
	if err != nil {
		r.metrics.Cycle("failed")
		return res, fmt.Errorf("load subject: %w", err)
	}
	if !subject.MonitoringEnabled {
		res.Skipped = true
		r.metrics.Cycle("skipped")
		log.Info("monitoring disabled, cycle skipped")
		return res, nil
	}
	cfg, found, err := r.store.GetMonitoringConfig(ctx, subject.TenantID)
	if err != nil {
		r.metrics.Cycle("failed")
		return res, &RetryableError{Err: fmt.Errorf("load monitoring config: %w", err)}
	}
	if !found {
		cfg = domain.DefaultMonitoringConfig(subject.TenantID)
	}

	var persistErrs []error
	sourceFailures := 0
	for _, req := range scheduler.Plan(subject, cfg) {
		if err := ctx.Err(); err != nil {
			r.metrics.Cycle("failed")
			return res, err
		}
		res.CheckTypesRun = append(res.CheckTypesRun, req.CheckType)
		out, err := r.runCheck(ctx, subject, cfg, req)
		res.Outcomes = append(res.Outcomes, out)
		if err != nil {
			persistErrs = append(persistErrs, fmt.Errorf("%s: %w", req.CheckType, err))
			log.WithError(err).WithField("check_type", req.CheckType).Error("check type rolled back")
			continue
		}
		if out.Error != "" {
			sourceFailures++
		}
		if out.SnapshotCreated {
			res.SnapshotsCreated++
		}
		res.DiffsDetected += out.Diffs
		res.AlertsGenerated += out.Alerts
	}

	if len(persistErrs) > 0 {
		r.metrics.Cycle("failed")
		return res, &RetryableError{Err: errors.Join(persistErrs...)}
	}

	thresholdAlerts, err := r.finalize(ctx, subject, cfg, &res)
	if err != nil {
		r.metrics.Cycle("failed")
		return res, &RetryableError{Err: err}
	}
	res.AlertsGenerated += thresholdAlerts

	outcome := "ok"
	if sourceFailures > 0 {
		outcome = "partial"
	}
	r.metrics.Cycle(outcome)
	log.WithFields(logrus.Fields{
		"check_types": len(res.CheckTypesRun),
		"snapshots":   res.SnapshotsCreated,
		"diffs":       res.DiffsDetected,
		"alerts":      res.AlertsGenerated,
		"risk_score":  res.RiskScore,
		"risk_level":  res.RiskLevel,
		"next_check":  res.NextCheck,
	}).Info("cycle finished")
	return res, nil
}

// runCheck calls the source outside any transaction, then records the
// snapshot, its diffs and their alerts as one unit. The returned error is a
// persistence failure; source failures only fill CheckOutcome.Error.
func (r *Runner) runCheck(ctx context.Context, subject domain.Subject, cfg domain.MonitoringConfig, req scheduler.CheckRequest) (CheckOutcome, error) {
	out := CheckOutcome{CheckType: req.CheckType}
	adapter, ok := r.adapters[req.CheckType]
	if !ok {
		out.Status = string(connectors.StatusError)
		out.Error = fmt.Sprintf("no connector configured for %s", req.CheckType)
		return out, nil
	}

	result, callErr := adapter.CheckSingle(ctx, req.Identifier, req.Options)
	out.Status = string(result.Status)
	if callErr != nil {
		out.Error = callErr.Error()
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	var normalized map[string]string
	if result.Status.Settled() {
		normalized = adapter.Normalize(result)
	}

	var created []domain.Alert
	var diffCount int
	err := r.store.WithinTx(ctx, func(tx ports.Repositories) error {
		if err := tx.LockSubject(ctx, subject.ID); err != nil {
			return fmt.Errorf("lock subject: %w", err)
		}
		snap, isNew, err := snapshots.Record(ctx, tx, subject.ID, snapshots.Observation{
			CheckType:  req.CheckType,
			Result:     result,
			Normalized: normalized,
		})
		if err != nil {
			return err
		}
		out.SnapshotID = snap.ID
		out.SnapshotCreated = isNew

		if isNew && snap.Status.Settled() {
			prev, found, err := tx.PreviousSettledSnapshot(ctx, subject.ID, req.CheckType, snap.ID)
			if err != nil {
				return fmt.Errorf("previous snapshot: %w", err)
			}
			var old *domain.Snapshot
			if found {
				old = &prev
			}
			changes := r.engine.Compare(old, snap)
			if len(changes) > 0 {
				if err := tx.CreateDiffs(ctx, changes); err != nil {
					return fmt.Errorf("create diffs: %w", err)
				}
			}
			diffCount = len(changes)
			for _, d := range changes {
				r.metrics.DiffDetected(string(d.CheckType), string(d.RiskImpact))
			}
		}

		created, err = r.alerts.ProcessDiffs(ctx, tx, subject, cfg)
		return err
	})
	if err != nil {
		out.SnapshotID = ""
		out.SnapshotCreated = false
		if out.Error == "" {
			out.Error = err.Error()
		}
		return out, err
	}
	out.Diffs = diffCount
	out.Alerts = len(created)
	return out, nil
}

// finalize recomputes the aggregate risk from current state, raises a
// threshold alert on an upward crossing and reschedules the subject.
func (r *Runner) finalize(ctx context.Context, subject domain.Subject, cfg domain.MonitoringConfig, res *CycleResult) (int, error) {
	alertsCreated := 0
	now := r.now().UTC()
	err := r.store.WithinTx(ctx, func(tx ports.Repositories) error {
		if err := tx.LockSubject(ctx, subject.ID); err != nil {
			return fmt.Errorf("lock subject: %w", err)
		}
		current, err := tx.GetSubject(ctx, subject.ID)
		if err != nil {
			return fmt.Errorf("reload subject: %w", err)
		}
		latest, err := tx.LatestSettledSnapshots(ctx, subject.ID)
		if err != nil {
			return fmt.Errorf("latest settled snapshots: %w", err)
		}
		assessment := risk.Assess(latest, cfg)
		if a := risk.ThresholdAlert(current, current.RiskLevel, assessment, cfg); a != nil {
			if err := tx.CreateAlert(ctx, a); err != nil {
				return fmt.Errorf("create threshold alert: %w", err)
			}
			alertsCreated = 1
			r.metrics.AlertCreated(string(a.Type), string(a.Severity))
		}
		next := scheduler.NextCheck(current, assessment.Level, cfg, now)
		if err := tx.UpdateSubjectRisk(ctx, subject.ID, assessment.Score, assessment.Level, now, next); err != nil {
			return fmt.Errorf("update subject risk: %w", err)
		}
		res.RiskScore = assessment.Score
		res.RiskLevel = assessment.Level
		res.NextCheck = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return alertsCreated, nil
}
