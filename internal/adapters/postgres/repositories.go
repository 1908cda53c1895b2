package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kybmon/internal/domain"
)

// repos implements ports.Repositories on a pool or a transaction.
type repos struct {
	q   querier
	now func() time.Time
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return err
}

// SubjectRepository

const subjectColumns = `id, tenant_id, name, vat_number, lei, registration_number, country_code, website,
    monitoring_enabled, frequency, risk_score, risk_level, status, last_checked, next_check, deleted_at, created_at`

func scanSubject(row pgx.Row) (domain.Subject, error) {
	var s domain.Subject
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.VATNumber, &s.LEI, &s.RegistrationNumber, &s.CountryCode, &s.Website,
		&s.MonitoringEnabled, &s.Frequency, &s.RiskScore, &s.RiskLevel, &s.Status, &s.LastChecked, &s.NextCheck, &s.DeletedAt, &s.CreatedAt)
	return s, err
}

func (r *repos) GetSubject(ctx context.Context, id string) (domain.Subject, error) {
	s, err := scanSubject(r.q.QueryRow(ctx, `
        SELECT `+subjectColumns+`
        FROM subjects
        WHERE id = $1 AND deleted_at IS NULL
    `, id))
	if err != nil {
		return domain.Subject{}, notFound(err, "subject", id)
	}
	return s, nil
}

func (r *repos) LockSubject(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id)
	return err
}

func (r *repos) UpdateSubjectRisk(ctx context.Context, id string, score float64, level domain.RiskLevel, lastChecked, nextCheck time.Time) error {
	tag, err := r.q.Exec(ctx, `
        UPDATE subjects
        SET risk_score = $2, risk_level = $3, last_checked = $4, next_check = $5
        WHERE id = $1
    `, id, score, level, lastChecked, nextCheck)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *repos) ListDueSubjects(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.q.Query(ctx, `
        SELECT id FROM subjects
        WHERE monitoring_enabled AND deleted_at IS NULL
          AND (next_check IS NULL OR next_check <= $1)
        ORDER BY next_check NULLS FIRST, id
        LIMIT NULLIF($2, 0)
    `, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SaveSubject inserts or replaces a subject. Subjects are owned by the
// onboarding system; this exists for seeding and tests.
func (r *repos) SaveSubject(ctx context.Context, s domain.Subject) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}
	_, err := r.q.Exec(ctx, `
        INSERT INTO subjects (`+subjectColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        ON CONFLICT (id) DO UPDATE SET
            tenant_id = EXCLUDED.tenant_id, name = EXCLUDED.name, vat_number = EXCLUDED.vat_number,
            lei = EXCLUDED.lei, registration_number = EXCLUDED.registration_number,
            country_code = EXCLUDED.country_code, website = EXCLUDED.website,
            monitoring_enabled = EXCLUDED.monitoring_enabled, frequency = EXCLUDED.frequency,
            risk_score = EXCLUDED.risk_score, risk_level = EXCLUDED.risk_level, status = EXCLUDED.status,
            last_checked = EXCLUDED.last_checked, next_check = EXCLUDED.next_check, deleted_at = EXCLUDED.deleted_at
    `, s.ID, s.TenantID, s.Name, s.VATNumber, s.LEI, s.RegistrationNumber, s.CountryCode, s.Website,
		s.MonitoringEnabled, s.Frequency, s.RiskScore, s.RiskLevel, orDefault(string(s.Status), string(domain.SubjectActive)),
		s.LastChecked, s.NextCheck, s.DeletedAt, s.CreatedAt)
	return err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SnapshotRepository

const snapshotColumns = `id, subject_id, source, check_type, content_hash, raw_payload, normalized,
    status, response_time_ms, error_message, created_at`

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var s domain.Snapshot
	err := row.Scan(&s.ID, &s.SubjectID, &s.Source, &s.CheckType, &s.ContentHash, &s.RawPayload, &s.Normalized,
		&s.Status, &s.ResponseTimeMs, &s.ErrorMessage, &s.CreatedAt)
	return s, err
}

func (r *repos) CreateSnapshot(ctx context.Context, s *domain.Snapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}
	normalized := s.Normalized
	if normalized == nil {
		normalized = map[string]string{}
	}
	_, err := r.q.Exec(ctx, `
        INSERT INTO snapshots (`+snapshotColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, s.ID, s.SubjectID, s.Source, s.CheckType, s.ContentHash, s.RawPayload, normalized,
		s.Status, s.ResponseTimeMs, s.ErrorMessage, s.CreatedAt)
	return err
}

func (r *repos) oneSnapshot(ctx context.Context, sql string, args ...any) (domain.Snapshot, bool, error) {
	s, err := scanSnapshot(r.q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	return s, true, nil
}

func (r *repos) LatestSnapshot(ctx context.Context, subjectID string, ct domain.CheckType) (domain.Snapshot, bool, error) {
	return r.oneSnapshot(ctx, `
        SELECT `+snapshotColumns+`
        FROM snapshots
        WHERE subject_id = $1 AND check_type = $2
        ORDER BY created_at DESC, seq DESC
        LIMIT 1
    `, subjectID, ct)
}

func (r *repos) PreviousSettledSnapshot(ctx context.Context, subjectID string, ct domain.CheckType, excludeID string) (domain.Snapshot, bool, error) {
	return r.oneSnapshot(ctx, `
        SELECT `+snapshotColumns+`
        FROM snapshots
        WHERE subject_id = $1 AND check_type = $2 AND id <> $3
          AND status IN ('valid', 'invalid', 'not_found', 'match', 'no_match')
        ORDER BY created_at DESC, seq DESC
        LIMIT 1
    `, subjectID, ct, excludeID)
}

func (r *repos) LatestSettledSnapshots(ctx context.Context, subjectID string) ([]domain.Snapshot, error) {
	rows, err := r.q.Query(ctx, `
        SELECT DISTINCT ON (check_type) `+snapshotColumns+`
        FROM snapshots
        WHERE subject_id = $1
          AND status IN ('valid', 'invalid', 'not_found', 'match', 'no_match')
        ORDER BY check_type, created_at DESC, seq DESC
    `, subjectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Snapshot, error) {
		return scanSnapshot(row)
	})
}

// PurgeSnapshots keeps the newest snapshot and the newest settled one per
// (subject, check type); the latter is the diff baseline after a run of
// failures. It relies on the foreign keys to drop diffs whose new side is
// removed and to null out references from older diffs and alerts.
func (r *repos) PurgeSnapshots(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
        DELETE FROM snapshots s
        USING subjects sub
        WHERE s.subject_id = sub.id
          AND sub.tenant_id = $1
          AND s.created_at < $2
          AND s.id <> (
              SELECT l.id FROM snapshots l
              WHERE l.subject_id = s.subject_id AND l.check_type = s.check_type
              ORDER BY l.created_at DESC, l.seq DESC
              LIMIT 1
          )
          AND s.id IS DISTINCT FROM (
              SELECT l.id FROM snapshots l
              WHERE l.subject_id = s.subject_id AND l.check_type = s.check_type
                AND l.status IN ('valid', 'invalid', 'not_found', 'match', 'no_match')
              ORDER BY l.created_at DESC, l.seq DESC
              LIMIT 1
          )
    `, tenantID, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DiffRepository

const diffColumns = `id, subject_id, check_type, old_snapshot_id, new_snapshot_id, field_path, old_value, new_value,
    change_type, category, risk_impact, risk_delta, processed, alert_generated, created_at`

func (r *repos) CreateDiffs(ctx context.Context, diffs []domain.Diff) error {
	if len(diffs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range diffs {
		d := &diffs[i]
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = r.now().UTC()
		}
		batch.Queue(`
            INSERT INTO diffs (`+diffColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        `, d.ID, d.SubjectID, d.CheckType, d.OldSnapshotID, d.NewSnapshotID, d.FieldPath, d.OldValue, d.NewValue,
			d.ChangeType, d.Category, d.RiskImpact, d.RiskDelta, d.Processed, d.AlertGenerated, d.CreatedAt)
	}
	return r.q.SendBatch(ctx, batch).Close()
}

func (r *repos) ClaimUnprocessedDiffs(ctx context.Context, subjectID string) ([]domain.Diff, error) {
	rows, err := r.q.Query(ctx, `
        SELECT `+diffColumns+`
        FROM diffs
        WHERE subject_id = $1 AND NOT processed
        ORDER BY created_at, id
        FOR UPDATE
    `, subjectID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Diff, error) {
		var d domain.Diff
		err := row.Scan(&d.ID, &d.SubjectID, &d.CheckType, &d.OldSnapshotID, &d.NewSnapshotID, &d.FieldPath, &d.OldValue, &d.NewValue,
			&d.ChangeType, &d.Category, &d.RiskImpact, &d.RiskDelta, &d.Processed, &d.AlertGenerated, &d.CreatedAt)
		return d, err
	})
}

func (r *repos) MarkDiffProcessed(ctx context.Context, id string, alertGenerated bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE diffs SET processed = TRUE, alert_generated = $2 WHERE id = $1`, id, alertGenerated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("diff %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AlertRepository

const alertColumns = `id, subject_id, diff_id, type, severity, title, message, data, status,
    acknowledged_by, acknowledged_at, ack_notes, resolved_by, resolved_at, resolution_notes, notification_sent, created_at`

func (r *repos) CreateAlert(ctx context.Context, a *domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	_, err := r.q.Exec(ctx, `
        INSERT INTO alerts (`+alertColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
    `, a.ID, a.SubjectID, a.DiffID, a.Type, a.Severity, a.Title, a.Message, a.Data, a.Status,
		a.AcknowledgedBy, a.AcknowledgedAt, a.AckNotes, a.ResolvedBy, a.ResolvedAt, a.ResolutionNotes, a.NotificationSent, a.CreatedAt)
	return err
}

func (r *repos) GetAlertForUpdate(ctx context.Context, id string) (domain.Alert, error) {
	var a domain.Alert
	err := r.q.QueryRow(ctx, `
        SELECT `+alertColumns+`
        FROM alerts
        WHERE id = $1
        FOR UPDATE
    `, id).Scan(&a.ID, &a.SubjectID, &a.DiffID, &a.Type, &a.Severity, &a.Title, &a.Message, &a.Data, &a.Status,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.AckNotes, &a.ResolvedBy, &a.ResolvedAt, &a.ResolutionNotes, &a.NotificationSent, &a.CreatedAt)
	if err != nil {
		return domain.Alert{}, notFound(err, "alert", id)
	}
	return a, nil
}

func (r *repos) UpdateAlertState(ctx context.Context, a domain.Alert) error {
	tag, err := r.q.Exec(ctx, `
        UPDATE alerts
        SET status = $2, acknowledged_by = $3, acknowledged_at = $4, ack_notes = $5, resolved_by = $6,
            resolved_at = $7, resolution_notes = $8, notification_sent = $9
        WHERE id = $1
    `, a.ID, a.Status, a.AcknowledgedBy, a.AcknowledgedAt, a.AckNotes, a.ResolvedBy, a.ResolvedAt, a.ResolutionNotes, a.NotificationSent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *repos) PurgeClosedAlerts(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
        DELETE FROM alerts a
        USING subjects s
        WHERE a.subject_id = s.id
          AND s.tenant_id = $1
          AND a.status IN ('resolved', 'false_positive')
          AND a.created_at < $2
    `, tenantID, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ConfigRepository

const configColumns = `tenant_id, enabled_sources, default_frequency, high_risk_frequency, low_risk_frequency,
    enabled_alerts, risk_weights, snapshot_retention_days, alert_retention_days`

func scanConfig(row pgx.Row) (domain.MonitoringConfig, error) {
	var c domain.MonitoringConfig
	err := row.Scan(&c.TenantID, &c.EnabledSources, &c.DefaultFrequency, &c.HighRiskFrequency, &c.LowRiskFrequency,
		&c.EnabledAlerts, &c.RiskWeights, &c.SnapshotRetentionDays, &c.AlertRetentionDays)
	return c, err
}

func (r *repos) GetMonitoringConfig(ctx context.Context, tenantID string) (domain.MonitoringConfig, bool, error) {
	c, err := scanConfig(r.q.QueryRow(ctx, `SELECT `+configColumns+` FROM monitoring_configs WHERE tenant_id = $1`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MonitoringConfig{}, false, nil
	}
	if err != nil {
		return domain.MonitoringConfig{}, false, err
	}
	return c, true, nil
}

func (r *repos) ListMonitoringConfigs(ctx context.Context) ([]domain.MonitoringConfig, error) {
	rows, err := r.q.Query(ctx, `SELECT `+configColumns+` FROM monitoring_configs ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MonitoringConfig, error) {
		return scanConfig(row)
	})
}

// SaveMonitoringConfig inserts or replaces a tenant's policy.
func (r *repos) SaveMonitoringConfig(ctx context.Context, c domain.MonitoringConfig) error {
	_, err := r.q.Exec(ctx, `
        INSERT INTO monitoring_configs (`+configColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (tenant_id) DO UPDATE SET
            enabled_sources = EXCLUDED.enabled_sources, default_frequency = EXCLUDED.default_frequency,
            high_risk_frequency = EXCLUDED.high_risk_frequency, low_risk_frequency = EXCLUDED.low_risk_frequency,
            enabled_alerts = EXCLUDED.enabled_alerts, risk_weights = EXCLUDED.risk_weights,
            snapshot_retention_days = EXCLUDED.snapshot_retention_days, alert_retention_days = EXCLUDED.alert_retention_days
    `, c.TenantID, c.EnabledSources, c.DefaultFrequency, c.HighRiskFrequency, c.LowRiskFrequency,
		c.EnabledAlerts, c.RiskWeights, c.SnapshotRetentionDays, c.AlertRetentionDays)
	return err
}
