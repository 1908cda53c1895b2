// Package scheduler decides what to check for a subject and when to check it
// next.
package scheduler

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"kybmon/internal/connectors"
	"kybmon/internal/connectors/validate"
	"kybmon/internal/domain"
)

// CheckRequest is one planned source call for a subject.
type CheckRequest struct {
	CheckType  domain.CheckType
	Identifier string
	Options    connectors.Options
}

// checkOrder fixes the per-cycle sequence.
var checkOrder = []domain.CheckType{
	domain.CheckVAT,
	domain.CheckLEI,
	domain.CheckSanctionsEU,
	domain.CheckSanctionsOFAC,
	domain.CheckSanctionsUK,
	domain.CheckInsolvencyDE,
}

// DetermineCheckTypes returns the enabled check types the subject carries
// identifiers for.
func DetermineCheckTypes(s domain.Subject, cfg domain.MonitoringConfig) []domain.CheckType {
	var out []domain.CheckType
	for _, ct := range checkOrder {
		if cfg.SourceEnabled(ct) && eligible(s, ct) {
			out = append(out, ct)
		}
	}
	return out
}

func eligible(s domain.Subject, ct domain.CheckType) bool {
	switch ct {
	case domain.CheckVAT:
		return nonEmpty(s.VATNumber) && strings.TrimSpace(s.CountryCode) != ""
	case domain.CheckLEI:
		return nonEmpty(s.LEI)
	case domain.CheckInsolvencyDE:
		return strings.EqualFold(s.CountryCode, "DE") && nonEmpty(s.RegistrationNumber)
	}
	if ct.IsSanctions() {
		return strings.TrimSpace(s.Name) != ""
	}
	return false
}

// Plan expands the check types into concrete requests.
func Plan(s domain.Subject, cfg domain.MonitoringConfig) []CheckRequest {
	types := DetermineCheckTypes(s, cfg)
	out := make([]CheckRequest, 0, len(types))
	for _, ct := range types {
		req := CheckRequest{CheckType: ct}
		switch {
		case ct == domain.CheckVAT:
			req.Identifier = validate.VATWithCountry(*s.VATNumber, s.CountryCode)
		case ct == domain.CheckLEI:
			req.Identifier = strings.ToUpper(strings.TrimSpace(*s.LEI))
		case ct == domain.CheckInsolvencyDE:
			req.Identifier = strings.TrimSpace(*s.RegistrationNumber)
			req.Options = connectors.Options{"country": "DE"}
		case ct.IsSanctions():
			req.Identifier = strings.TrimSpace(s.Name)
			req.Options = sanctionsOptions(s)
		}
		out = append(out, req)
	}
	return out
}

// sanctionsOptions narrows name screening with the country and the
// registrable domain of the subject's website.
func sanctionsOptions(s domain.Subject) connectors.Options {
	opts := connectors.Options{}
	if cc := strings.ToUpper(strings.TrimSpace(s.CountryCode)); cc != "" {
		opts["country"] = cc
	}
	if d := RegistrableDomain(s.Website); d != "" {
		opts["domain"] = d
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// RegistrableDomain reduces a website to its eTLD+1, or "" when none can be
// derived.
func RegistrableDomain(website *string) string {
	if website == nil || strings.TrimSpace(*website) == "" {
		return ""
	}
	raw := strings.TrimSpace(*website)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}

// NextCheck applies the risk-adaptive interval. Critical subjects are
// rechecked daily whatever the configuration says.
func NextCheck(s domain.Subject, level domain.RiskLevel, cfg domain.MonitoringConfig, now time.Time) time.Time {
	var f domain.Frequency
	switch level {
	case domain.RiskCritical:
		return now.Add(24 * time.Hour)
	case domain.RiskHigh:
		f = cfg.HighRiskFrequency
	case domain.RiskLow:
		f = cfg.LowRiskFrequency
	default:
		f = s.Frequency
		if f == "" {
			f = cfg.DefaultFrequency
		}
	}
	return now.Add(f.Interval())
}

func nonEmpty(p *string) bool {
	return p != nil && strings.TrimSpace(*p) != ""
}
