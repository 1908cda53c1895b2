// Package alerts turns unprocessed diffs into alerts and applies analyst
// decisions to existing alerts.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"kybmon/internal/domain"
	"kybmon/internal/observability"
	"kybmon/internal/ports"
)

type Service struct {
	store   ports.Store
	metrics *observability.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

func New(store ports.Store, metrics *observability.Metrics, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, metrics: metrics, log: log, now: time.Now}
}

// ProcessDiffs evaluates every unprocessed diff of the subject inside tx.
// Each diff is marked processed in the same transaction that creates its
// alert, so a second call finds nothing to do.
func (s *Service) ProcessDiffs(ctx context.Context, tx ports.Repositories, subject domain.Subject, cfg domain.MonitoringConfig) ([]domain.Alert, error) {
	pending, err := tx.ClaimUnprocessedDiffs(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("claim diffs: %w", err)
	}
	var created []domain.Alert
	for _, d := range pending {
		generate := cfg.AlertEnabled(d.Category)
		if generate {
			a := FromDiff(subject, d)
			if err := tx.CreateAlert(ctx, &a); err != nil {
				return nil, fmt.Errorf("create alert for diff %s: %w", d.ID, err)
			}
			created = append(created, a)
		}
		if err := tx.MarkDiffProcessed(ctx, d.ID, generate); err != nil {
			return nil, fmt.Errorf("mark diff %s processed: %w", d.ID, err)
		}
	}
	for _, a := range created {
		s.metrics.AlertCreated(string(a.Type), string(a.Severity))
		s.log.WithFields(logrus.Fields{
			"subject_id": subject.ID,
			"alert_id":   a.ID,
			"category":   a.Type,
			"severity":   a.Severity,
		}).Info("alert created")
	}
	return created, nil
}

// Acknowledge, Resolve and MarkFalsePositive lock the alert, apply the
// transition and persist it atomically. Invalid transitions return an error
// wrapping domain.ErrStateConflict.
func (s *Service) Acknowledge(ctx context.Context, alertID, userID, notes string) (domain.Alert, error) {
	return s.transition(ctx, alertID, func(a *domain.Alert, at time.Time) error {
		return a.Acknowledge(userID, notes, at)
	})
}

func (s *Service) Resolve(ctx context.Context, alertID, userID, notes string) (domain.Alert, error) {
	return s.transition(ctx, alertID, func(a *domain.Alert, at time.Time) error {
		return a.Resolve(userID, notes, at)
	})
}

func (s *Service) MarkFalsePositive(ctx context.Context, alertID, userID, notes string) (domain.Alert, error) {
	return s.transition(ctx, alertID, func(a *domain.Alert, at time.Time) error {
		return a.MarkFalsePositive(userID, notes, at)
	})
}

func (s *Service) transition(ctx context.Context, alertID string, apply func(*domain.Alert, time.Time) error) (domain.Alert, error) {
	var out domain.Alert
	err := s.store.WithinTx(ctx, func(tx ports.Repositories) error {
		a, err := tx.GetAlertForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		if err := apply(&a, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateAlertState(ctx, a); err != nil {
			return fmt.Errorf("update alert %s: %w", alertID, err)
		}
		out = a
		return nil
	})
	if err != nil {
		return domain.Alert{}, err
	}
	s.log.WithFields(logrus.Fields{"alert_id": alertID, "status": out.Status}).Info("alert transitioned")
	return out, nil
}
