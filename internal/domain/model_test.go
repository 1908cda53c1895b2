package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForScoreBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskLow},
		{39, RiskLow},
		{39.99, RiskLow},
		{40, RiskMedium},
		{69.9, RiskMedium},
		{70, RiskHigh},
		{89, RiskHigh},
		{90, RiskCritical},
		{100, RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelForScore(tc.score), "score %v", tc.score)
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-12))
	assert.Equal(t, 100.0, ClampScore(170))
	assert.Equal(t, 55.5, ClampScore(55.5))
}

func TestFrequencyInterval(t *testing.T) {
	assert.Equal(t, 24*time.Hour, FrequencyDaily.Interval())
	assert.Equal(t, 7*24*time.Hour, FrequencyWeekly.Interval())
	assert.Equal(t, 30*24*time.Hour, FrequencyMonthly.Interval())
	assert.Equal(t, 24*time.Hour, Frequency("").Interval())
	assert.Equal(t, 24*time.Hour, Frequency("hourly").Interval())
}

func TestSettledStatuses(t *testing.T) {
	for _, s := range []SnapshotStatus{StatusValid, StatusInvalid, StatusNotFound, StatusMatch, StatusNoMatch} {
		assert.True(t, s.Settled(), s)
	}
	for _, s := range []SnapshotStatus{StatusError, StatusTimeout, StatusUnavailable} {
		assert.False(t, s.Settled(), s)
	}
}

func TestAlertStateMachine(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("resolve open", func(t *testing.T) {
		a := &Alert{ID: "a1", Status: AlertOpen}
		require.NoError(t, a.Resolve("u1", "checked registry", now))
		assert.Equal(t, AlertResolved, a.Status)
		require.NotNil(t, a.ResolvedBy)
		assert.Equal(t, "u1", *a.ResolvedBy)
		assert.Equal(t, now, *a.ResolvedAt)
		assert.Equal(t, "checked registry", *a.ResolutionNotes)

		err := a.Resolve("u2", "", now.Add(time.Hour))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStateConflict))
		assert.Equal(t, "u1", *a.ResolvedBy)
	})

	t.Run("acknowledge then resolve", func(t *testing.T) {
		a := &Alert{ID: "a2", Status: AlertOpen}
		require.NoError(t, a.Acknowledge("u1", "", now))
		assert.Equal(t, AlertAcknowledged, a.Status)
		assert.Nil(t, a.ResolutionNotes)
		assert.Nil(t, a.AckNotes)
		assert.ErrorIs(t, a.Acknowledge("u1", "", now), ErrStateConflict)
		assert.ErrorIs(t, a.MarkFalsePositive("u1", "", now), ErrStateConflict)
		require.NoError(t, a.Resolve("u3", "", now))
		assert.Equal(t, AlertResolved, a.Status)
	})

	t.Run("acknowledgement notes survive resolution", func(t *testing.T) {
		a := &Alert{ID: "a4", Status: AlertOpen}
		require.NoError(t, a.Acknowledge("u1", "calling the registry", now))
		assert.Nil(t, a.ResolutionNotes)
		require.NoError(t, a.Resolve("u2", "registry confirmed active", now.Add(time.Hour)))
		require.NotNil(t, a.AckNotes)
		assert.Equal(t, "calling the registry", *a.AckNotes)
		assert.Equal(t, "registry confirmed active", *a.ResolutionNotes)
	})

	t.Run("false positive is terminal", func(t *testing.T) {
		a := &Alert{ID: "a3", Status: AlertOpen}
		require.NoError(t, a.MarkFalsePositive("u1", "namesake", now))
		assert.Equal(t, AlertFalsePositive, a.Status)
		assert.True(t, a.Status.Closed())
		assert.ErrorIs(t, a.Resolve("u1", "", now), ErrStateConflict)
		assert.ErrorIs(t, a.Acknowledge("u1", "", now), ErrStateConflict)
	})
}

func TestInactiveEntityStatus(t *testing.T) {
	for _, s := range []string{"inactive", "LAPSED", "Retired", "annulled", "merged", "duplicate", "pending_archival", "dissolved", "deregistered", " DISSOLVED "} {
		assert.True(t, InactiveEntityStatus(s), s)
	}
	for _, s := range []string{"", "active", "ISSUED", "pending_validation"} {
		assert.False(t, InactiveEntityStatus(s), s)
	}
}

func TestMonitoringConfigWeightFallback(t *testing.T) {
	cfg := DefaultMonitoringConfig("t1")
	cfg.RiskWeights = map[AlertCategory]float64{CategorySanctionsMatch: 80}
	assert.Equal(t, 80.0, cfg.Weight(CategorySanctionsMatch))
	assert.Equal(t, 40.0, cfg.Weight(CategoryInsolvency))
}

func TestCheckTypeSource(t *testing.T) {
	assert.Equal(t, "vies", CheckVAT.Source())
	assert.Equal(t, "gleif", CheckLEI.Source())
	assert.True(t, CheckSanctionsOFAC.IsSanctions())
	assert.False(t, CheckInsolvencyDE.IsSanctions())
}
