package domain

// MonitoringConfig is per-tenant policy. The pipeline only reads it.
type MonitoringConfig struct {
	TenantID              string
	EnabledSources        map[CheckType]bool
	DefaultFrequency      Frequency
	HighRiskFrequency     Frequency
	LowRiskFrequency      Frequency
	EnabledAlerts         map[AlertCategory]bool
	RiskWeights           map[AlertCategory]float64
	SnapshotRetentionDays int
	AlertRetentionDays    int
}

// Default finding weights summed by the risk scorer for each currently-true
// adverse condition.
var DefaultRiskWeights = map[AlertCategory]float64{
	CategorySanctionsMatch: 50,
	CategoryInsolvency:     40,
	CategoryVATInvalid:     20,
	CategoryLEIInvalid:     20,
	CategoryDataChange:     0,
}

// DefaultMonitoringConfig is used for tenants without a stored config.
func DefaultMonitoringConfig(tenantID string) MonitoringConfig {
	weights := make(map[AlertCategory]float64, len(DefaultRiskWeights))
	for k, v := range DefaultRiskWeights {
		weights[k] = v
	}
	return MonitoringConfig{
		TenantID: tenantID,
		EnabledSources: map[CheckType]bool{
			CheckVAT:           true,
			CheckLEI:           true,
			CheckSanctionsEU:   true,
			CheckSanctionsOFAC: true,
			CheckSanctionsUK:   true,
			CheckInsolvencyDE:  true,
		},
		DefaultFrequency:  FrequencyWeekly,
		HighRiskFrequency: FrequencyDaily,
		LowRiskFrequency:  FrequencyMonthly,
		EnabledAlerts: map[AlertCategory]bool{
			CategorySanctionsMatch: true,
			CategoryVATInvalid:     true,
			CategoryLEIInvalid:     true,
			CategoryInsolvency:     true,
			CategoryDataChange:     true,
			CategoryRiskThreshold:  true,
		},
		RiskWeights:           weights,
		SnapshotRetentionDays: 365,
		AlertRetentionDays:    730,
	}
}

func (c MonitoringConfig) SourceEnabled(ct CheckType) bool {
	return c.EnabledSources[ct]
}

func (c MonitoringConfig) AlertEnabled(cat AlertCategory) bool {
	return c.EnabledAlerts[cat]
}

// Weight falls back to the default table when the tenant has no override.
func (c MonitoringConfig) Weight(cat AlertCategory) float64 {
	if w, ok := c.RiskWeights[cat]; ok {
		return w
	}
	return DefaultRiskWeights[cat]
}
