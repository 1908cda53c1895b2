package retention

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kybmon/internal/adapters/memory"
	"kybmon/internal/domain"
)

func TestPurge(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	cfg := domain.DefaultMonitoringConfig("t1")
	cfg.SnapshotRetentionDays = 30
	cfg.AlertRetentionDays = 60
	store.PutConfig(cfg)
	store.PutSubject(domain.Subject{ID: "s1", TenantID: "t1"})
	store.PutSubject(domain.Subject{ID: "other", TenantID: "t2"})
	ctx := context.Background()

	old := now.AddDate(0, 0, -90)
	for _, sn := range []domain.Snapshot{
		{ID: "a", SubjectID: "s1", CheckType: domain.CheckVAT, Status: domain.StatusValid, CreatedAt: old},
		{ID: "b", SubjectID: "s1", CheckType: domain.CheckVAT, Status: domain.StatusValid, CreatedAt: old.Add(time.Hour)},
		{ID: "c", SubjectID: "s1", CheckType: domain.CheckLEI, Status: domain.StatusValid, CreatedAt: old},
		{ID: "x", SubjectID: "other", CheckType: domain.CheckVAT, Status: domain.StatusValid, CreatedAt: old},
		{ID: "y", SubjectID: "other", CheckType: domain.CheckVAT, Status: domain.StatusValid, CreatedAt: old.Add(time.Hour)},
	} {
		require.NoError(t, store.CreateSnapshot(ctx, &sn))
	}
	for _, a := range []domain.Alert{
		{ID: "closed-old", SubjectID: "s1", Status: domain.AlertResolved, CreatedAt: old},
		{ID: "open-old", SubjectID: "s1", Status: domain.AlertOpen, CreatedAt: old},
		{ID: "closed-new", SubjectID: "s1", Status: domain.AlertFalsePositive, CreatedAt: now.AddDate(0, 0, -5)},
	} {
		require.NoError(t, store.CreateAlert(ctx, &a))
	}

	logger, _ := test.NewNullLogger()
	svc := New(store, logger)
	svc.now = func() time.Time { return now }

	rep, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Tenants: 1, SnapshotsDeleted: 1, AlertsDeleted: 1}, rep)

	var ids []string
	for _, sn := range store.Snapshots("s1") {
		ids = append(ids, sn.ID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
	assert.Len(t, store.Snapshots("other"), 2, "tenants without config are untouched")

	var alertIDs []string
	for _, a := range store.Alerts("s1") {
		alertIDs = append(alertIDs, a.ID)
	}
	assert.ElementsMatch(t, []string{"open-old", "closed-new"}, alertIDs)
}
