// Package risk derives a subject's aggregate score from the current state
// of its checks and raises threshold alerts.
package risk

import (
	"fmt"
	"strings"

	"kybmon/internal/domain"
)

// Assessment is the recomputed risk state.
type Assessment struct {
	Score      float64
	Level      domain.RiskLevel
	Conditions []domain.AlertCategory
}

// Assess sums the configured weight of every adverse condition that is true
// in the newest settled snapshot of each check type. recent must be newest
// first; unsettled entries are skipped. The result depends only on current
// state, so repeated observation of an unchanged condition never moves the
// score.
func Assess(recent []domain.Snapshot, cfg domain.MonitoringConfig) Assessment {
	latest := map[domain.CheckType]domain.Snapshot{}
	for _, s := range recent {
		if !s.Status.Settled() {
			continue
		}
		if _, ok := latest[s.CheckType]; !ok {
			latest[s.CheckType] = s
		}
	}

	active := map[domain.AlertCategory]bool{}
	for ct, s := range latest {
		switch {
		case ct.IsSanctions():
			if s.Status == domain.StatusMatch || s.Normalized["match_found"] == "true" {
				active[domain.CategorySanctionsMatch] = true
			}
		case ct == domain.CheckInsolvencyDE:
			if s.Normalized["insolvency_found"] == "true" {
				active[domain.CategoryInsolvency] = true
			}
		case ct == domain.CheckVAT:
			if validationFailed(s) {
				active[domain.CategoryVATInvalid] = true
			}
		case ct == domain.CheckLEI:
			if validationFailed(s) || domain.InactiveEntityStatus(s.Normalized["entity_status"]) || domain.InactiveEntityStatus(s.Normalized["registration_status"]) {
				active[domain.CategoryLEIInvalid] = true
			}
		}
	}

	var a Assessment
	for _, cat := range []domain.AlertCategory{
		domain.CategorySanctionsMatch,
		domain.CategoryInsolvency,
		domain.CategoryVATInvalid,
		domain.CategoryLEIInvalid,
	} {
		if active[cat] {
			a.Score += cfg.Weight(cat)
			a.Conditions = append(a.Conditions, cat)
		}
	}
	a.Score = domain.ClampScore(a.Score)
	a.Level = domain.LevelForScore(a.Score)
	return a
}

func validationFailed(s domain.Snapshot) bool {
	return s.Status == domain.StatusInvalid || s.Status == domain.StatusNotFound || s.Normalized["valid"] == "false"
}

// ThresholdAlert returns an alert when the level rose into high or critical,
// or nil. It fires on the crossing only, so recomputing an unchanged level is
// a no-op.
func ThresholdAlert(subject domain.Subject, prev domain.RiskLevel, a Assessment, cfg domain.MonitoringConfig) *domain.Alert {
	if !cfg.AlertEnabled(domain.CategoryRiskThreshold) {
		return nil
	}
	if a.Level.Rank() <= prev.Rank() || a.Level.Rank() < domain.RiskHigh.Rank() {
		return nil
	}
	conds := make([]string, len(a.Conditions))
	for i, c := range a.Conditions {
		conds[i] = string(c)
	}
	from := string(prev)
	if from == "" {
		from = "unrated"
	}
	return &domain.Alert{
		SubjectID: subject.ID,
		Type:      domain.CategoryRiskThreshold,
		Severity:  a.Level,
		Title:     fmt.Sprintf("%s risk level raised to %s", subject.Name, a.Level),
		Message: fmt.Sprintf("Risk score for %s is now %.0f (%s, previously %s). Active findings: %s.",
			subject.Name, a.Score, a.Level, from, strings.Join(conds, ", ")),
		Data: map[string]any{
			"score":          a.Score,
			"level":          string(a.Level),
			"previous_level": string(prev),
			"conditions":     conds,
		},
		Status: domain.AlertOpen,
	}
}
