package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kybmon/internal/domain"
)

func settled(ct domain.CheckType, st domain.SnapshotStatus, data map[string]string) domain.Snapshot {
	return domain.Snapshot{CheckType: ct, Status: st, Normalized: data}
}

func TestAssessSumsCurrentConditions(t *testing.T) {
	cfg := domain.DefaultMonitoringConfig("t1")
	recent := []domain.Snapshot{
		settled(domain.CheckSanctionsEU, domain.StatusMatch, map[string]string{"match_found": "true"}),
		settled(domain.CheckSanctionsOFAC, domain.StatusMatch, map[string]string{"match_found": "true"}),
		settled(domain.CheckInsolvencyDE, domain.StatusValid, map[string]string{"insolvency_found": "true"}),
		settled(domain.CheckVAT, domain.StatusValid, map[string]string{"valid": "true"}),
	}
	a := Assess(recent, cfg)
	assert.Equal(t, 90.0, a.Score, "one sanctions contribution regardless of list count")
	assert.Equal(t, domain.RiskCritical, a.Level)
	assert.Equal(t, []domain.AlertCategory{domain.CategorySanctionsMatch, domain.CategoryInsolvency}, a.Conditions)
}

func TestAssessUsesNewestSettledPerCheckType(t *testing.T) {
	cfg := domain.DefaultMonitoringConfig("t1")
	recent := []domain.Snapshot{
		{CheckType: domain.CheckVAT, Status: domain.StatusTimeout},
		settled(domain.CheckVAT, domain.StatusValid, map[string]string{"valid": "true"}),
		settled(domain.CheckVAT, domain.StatusInvalid, map[string]string{"valid": "false"}),
	}
	a := Assess(recent, cfg)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, domain.RiskLow, a.Level)
}

func TestAssessIsStableUnderRepetition(t *testing.T) {
	cfg := domain.DefaultMonitoringConfig("t1")
	var recent []domain.Snapshot
	for i := 0; i < 10; i++ {
		recent = append(recent, settled(domain.CheckVAT, domain.StatusInvalid, map[string]string{"valid": "false"}))
	}
	assert.Equal(t, 20.0, Assess(recent, cfg).Score)
}

func TestAssessClampsAndHonoursWeights(t *testing.T) {
	cfg := domain.DefaultMonitoringConfig("t1")
	cfg.RiskWeights[domain.CategorySanctionsMatch] = 90
	cfg.RiskWeights[domain.CategoryLEIInvalid] = 30
	recent := []domain.Snapshot{
		settled(domain.CheckSanctionsUK, domain.StatusMatch, nil),
		settled(domain.CheckLEI, domain.StatusValid, map[string]string{"entity_status": "LAPSED"}),
	}
	a := Assess(recent, cfg)
	assert.Equal(t, 100.0, a.Score)
	assert.Equal(t, domain.RiskCritical, a.Level)
}

func TestAssessInactiveEntityStates(t *testing.T) {
	cfg := domain.DefaultMonitoringConfig("t1")
	for _, st := range []string{"INACTIVE", "LAPSED", "RETIRED", "ANNULLED", "MERGED", "DUPLICATE", "PENDING_ARCHIVAL", "dissolved", "deregistered"} {
		a := Assess([]domain.Snapshot{
			settled(domain.CheckLEI, domain.StatusValid, map[string]string{"entity_status": st}),
		}, cfg)
		assert.Equal(t, []domain.AlertCategory{domain.CategoryLEIInvalid}, a.Conditions, st)
	}
	a := Assess([]domain.Snapshot{
		settled(domain.CheckLEI, domain.StatusValid, map[string]string{"entity_status": "ACTIVE"}),
	}, cfg)
	assert.Empty(t, a.Conditions)
}

func TestThresholdAlert(t *testing.T) {
	cfg := domain.DefaultMonitoringConfig("t1")
	sub := domain.Subject{ID: "s1", Name: "Acme GmbH"}

	a := ThresholdAlert(sub, domain.RiskMedium, Assessment{Score: 70, Level: domain.RiskHigh, Conditions: []domain.AlertCategory{domain.CategorySanctionsMatch}}, cfg)
	require.NotNil(t, a)
	assert.Equal(t, domain.CategoryRiskThreshold, a.Type)
	assert.Equal(t, domain.RiskHigh, a.Severity)
	assert.Contains(t, a.Message, "Acme GmbH")
	assert.Nil(t, a.DiffID)

	assert.Nil(t, ThresholdAlert(sub, domain.RiskHigh, Assessment{Score: 75, Level: domain.RiskHigh}, cfg), "no re-fire without a crossing")
	assert.Nil(t, ThresholdAlert(sub, domain.RiskLow, Assessment{Score: 50, Level: domain.RiskMedium}, cfg), "medium is below the alerting tier")
	assert.NotNil(t, ThresholdAlert(sub, "", Assessment{Score: 95, Level: domain.RiskCritical}, cfg))

	cfg.EnabledAlerts[domain.CategoryRiskThreshold] = false
	assert.Nil(t, ThresholdAlert(sub, domain.RiskLow, Assessment{Score: 95, Level: domain.RiskCritical}, cfg))
}
