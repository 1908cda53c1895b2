package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kybmon/internal/adapters/memory"
	"kybmon/internal/domain"
	"kybmon/internal/observability"
	"kybmon/internal/ports"
)

func strp(s string) *string { return &s }

func setup(t *testing.T) (*memory.Store, *Service, *observability.Metrics, domain.Subject) {
	t.Helper()
	store := memory.NewStore()
	sub := domain.Subject{ID: "s1", TenantID: "t1", Name: "Acme GmbH"}
	store.PutSubject(sub)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger, _ := test.NewNullLogger()
	return store, New(store, metrics, logger), metrics, sub
}

func TestProcessDiffsCreatesOneAlertPerDiff(t *testing.T) {
	store, svc, metrics, sub := setup(t)
	ctx := context.Background()
	cfg := domain.DefaultMonitoringConfig("t1")

	require.NoError(t, store.CreateDiffs(ctx, []domain.Diff{{
		SubjectID:  sub.ID,
		CheckType:  domain.CheckSanctionsEU,
		FieldPath:  "match_found",
		OldValue:   strp("false"),
		NewValue:   strp("true"),
		ChangeType: domain.ChangeModified,
		Category:   domain.CategorySanctionsMatch,
		RiskImpact: domain.RiskCritical,
		RiskDelta:  50,
	}}))

	run := func() []domain.Alert {
		var out []domain.Alert
		err := store.WithinTx(ctx, func(tx ports.Repositories) error {
			var err error
			out, err = svc.ProcessDiffs(ctx, tx, sub, cfg)
			return err
		})
		require.NoError(t, err)
		return out
	}

	first := run()
	require.Len(t, first, 1)
	assert.Equal(t, domain.CategorySanctionsMatch, first[0].Type)
	assert.Equal(t, domain.RiskCritical, first[0].Severity)
	assert.Contains(t, first[0].Message, "Acme GmbH")
	assert.Contains(t, first[0].Message, `"true"`)
	require.NotNil(t, first[0].DiffID)

	assert.Empty(t, run(), "second pass is a no-op")
	assert.Len(t, store.Alerts(sub.ID), 1)

	diffs := store.Diffs(sub.ID)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Processed)
	assert.True(t, diffs[0].AlertGenerated)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Alerts.WithLabelValues("sanctions_match", "critical")))
}

func TestProcessDiffsDisabledCategory(t *testing.T) {
	store, svc, _, sub := setup(t)
	ctx := context.Background()
	cfg := domain.DefaultMonitoringConfig("t1")
	cfg.EnabledAlerts[domain.CategoryDataChange] = false

	require.NoError(t, store.CreateDiffs(ctx, []domain.Diff{{
		SubjectID: sub.ID, CheckType: domain.CheckLEI, FieldPath: "name",
		OldValue: strp("Acme"), NewValue: strp("Acme Holding"), ChangeType: domain.ChangeModified,
		Category: domain.CategoryDataChange, RiskImpact: domain.RiskMedium, RiskDelta: 5,
	}}))
	err := store.WithinTx(ctx, func(tx ports.Repositories) error {
		alerts, err := svc.ProcessDiffs(ctx, tx, sub, cfg)
		assert.Empty(t, alerts)
		return err
	})
	require.NoError(t, err)

	diffs := store.Diffs(sub.ID)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Processed)
	assert.False(t, diffs[0].AlertGenerated)
}

func TestProcessDiffsRollsBackOnFailure(t *testing.T) {
	store, svc, _, sub := setup(t)
	ctx := context.Background()
	require.NoError(t, store.CreateDiffs(ctx, []domain.Diff{{
		SubjectID: sub.ID, CheckType: domain.CheckVAT, FieldPath: "valid",
		OldValue: strp("true"), NewValue: strp("false"), ChangeType: domain.ChangeModified,
		Category: domain.CategoryVATInvalid, RiskImpact: domain.RiskHigh, RiskDelta: 20,
	}}))
	store.InjectFault("MarkDiffProcessed", errors.New("connection lost"))

	err := store.WithinTx(ctx, func(tx ports.Repositories) error {
		_, err := svc.ProcessDiffs(ctx, tx, sub, domain.DefaultMonitoringConfig("t1"))
		return err
	})
	require.Error(t, err)
	assert.Empty(t, store.Alerts(sub.ID), "no alert without its processed diff")
	assert.False(t, store.Diffs(sub.ID)[0].Processed)
}

func TestTransitions(t *testing.T) {
	store, svc, _, sub := setup(t)
	ctx := context.Background()
	a := domain.Alert{SubjectID: sub.ID, Type: domain.CategoryVATInvalid, Severity: domain.RiskHigh, Status: domain.AlertOpen}
	require.NoError(t, store.CreateAlert(ctx, &a))

	got, err := svc.Resolve(ctx, a.ID, "analyst-1", "registry confirmed")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertResolved, got.Status)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, "analyst-1", *got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	_, err = svc.Resolve(ctx, a.ID, "analyst-2", "")
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	_, err = svc.Acknowledge(ctx, "missing", "analyst-1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c := domain.Alert{SubjectID: sub.ID, Type: domain.CategoryLEIInvalid, Status: domain.AlertOpen}
	require.NoError(t, store.CreateAlert(ctx, &c))
	_, err = svc.Acknowledge(ctx, c.ID, "analyst-1", "waiting on registry")
	require.NoError(t, err)
	got, err = svc.Resolve(ctx, c.ID, "analyst-2", "lapse was a data error")
	require.NoError(t, err)
	require.NotNil(t, got.AckNotes)
	assert.Equal(t, "waiting on registry", *got.AckNotes)
	assert.Equal(t, "lapse was a data error", *got.ResolutionNotes)

	b := domain.Alert{SubjectID: sub.ID, Type: domain.CategorySanctionsMatch, Status: domain.AlertOpen}
	require.NoError(t, store.CreateAlert(ctx, &b))
	got, err = svc.MarkFalsePositive(ctx, b.ID, "analyst-1", "namesake")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertFalsePositive, got.Status)
	assert.Equal(t, "namesake", *got.ResolutionNotes)
}

func TestFromDiffTemplates(t *testing.T) {
	sub := domain.Subject{ID: "s1", Name: "Globex AG"}
	a := FromDiff(sub, domain.Diff{
		ID: "d1", CheckType: domain.CheckLEI, FieldPath: "name",
		OldValue: strp("Globex"), NewValue: strp("Globex AG"), ChangeType: domain.ChangeModified,
		Category: domain.CategoryDataChange, RiskImpact: domain.RiskMedium,
	})
	assert.Equal(t, "LEI record changed for Globex AG", a.Title)
	assert.Contains(t, a.Message, `"Globex" -> "Globex AG"`)
	assert.Equal(t, domain.RiskMedium, a.Severity)
	assert.Equal(t, "d1", *a.DiffID)
	assert.Equal(t, "Globex", a.Data["old_value"])

	a = FromDiff(sub, domain.Diff{ID: "d2", CheckType: domain.CheckInsolvencyDE, FieldPath: "insolvency_found",
		NewValue: strp("true"), ChangeType: domain.ChangeAdded, Category: domain.CategoryInsolvency, RiskImpact: domain.RiskCritical})
	assert.Contains(t, a.Message, "(none)")
	assert.Contains(t, a.Title, "Insolvency")
}
