// Package retention deletes observations and closed alerts past each
// tenant's retention windows.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"kybmon/internal/domain"
	"kybmon/internal/ports"
)

type Report struct {
	Tenants          int
	SnapshotsDeleted int64
	AlertsDeleted    int64
}

type Service struct {
	store ports.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

type Option func(*Service)

// WithClock replaces the time source used to compute cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store ports.Store, log logrus.FieldLogger, opts ...Option) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Purge applies every stored tenant configuration. The newest snapshot of
// each (subject, check type) is always kept so diffing has a baseline.
// Open and acknowledged alerts are never deleted.
func (s *Service) Purge(ctx context.Context) (Report, error) {
	cfgs, err := s.store.ListMonitoringConfigs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list monitoring configs: %w", err)
	}
	var rep Report
	now := s.now().UTC()
	for _, cfg := range cfgs {
		snaps, alerts, err := s.purgeTenant(ctx, cfg, now)
		if err != nil {
			return rep, fmt.Errorf("purge tenant %s: %w", cfg.TenantID, err)
		}
		rep.Tenants++
		rep.SnapshotsDeleted += snaps
		rep.AlertsDeleted += alerts
	}
	s.log.WithFields(logrus.Fields{
		"tenants":   rep.Tenants,
		"snapshots": rep.SnapshotsDeleted,
		"alerts":    rep.AlertsDeleted,
	}).Info("retention purge finished")
	return rep, nil
}

func (s *Service) purgeTenant(ctx context.Context, cfg domain.MonitoringConfig, now time.Time) (snaps, alerts int64, err error) {
	err = s.store.WithinTx(ctx, func(tx ports.Repositories) error {
		if cfg.SnapshotRetentionDays > 0 {
			snaps, err = tx.PurgeSnapshots(ctx, cfg.TenantID, now.AddDate(0, 0, -cfg.SnapshotRetentionDays))
			if err != nil {
				return err
			}
		}
		if cfg.AlertRetentionDays > 0 {
			alerts, err = tx.PurgeClosedAlerts(ctx, cfg.TenantID, now.AddDate(0, 0, -cfg.AlertRetentionDays))
			if err != nil {
				return err
			}
		}
		return nil
	})
	return snaps, alerts, err
}
