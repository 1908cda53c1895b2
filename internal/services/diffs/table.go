package diffs

import (
	"strings"
	"sync"

	"kybmon/internal/domain"
)

// Classification is the policy outcome for one change.
type Classification struct {
	Category domain.AlertCategory
	Impact   domain.RiskLevel
	Delta    float64
}

// Rule classifies a change of one field.
type Rule func(ct domain.CheckType, ch Change) Classification

// Static returns a rule that ignores the transition.
func Static(cat domain.AlertCategory, impact domain.RiskLevel, delta float64) Rule {
	return func(domain.CheckType, Change) Classification {
		return Classification{Category: cat, Impact: impact, Delta: delta}
	}
}

// Table maps field paths to rules. Lookup order: "checkType/path", "path",
// the last path segment, then the fallback.
type Table struct {
	mu       sync.RWMutex
	rules    map[string]Rule
	fallback Rule
}

func NewTable(fallback Rule) *Table {
	if fallback == nil {
		fallback = Static(domain.CategoryDataChange, domain.RiskLow, 1)
	}
	return &Table{rules: map[string]Rule{}, fallback: fallback}
}

// Set installs or replaces the rule for a key ("path" or "checkType/path").
func (t *Table) Set(key string, r Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules[key] = r
}

func (t *Table) Classify(ct domain.CheckType, ch Change) Classification {
	t.mu.RLock()
	r, ok := t.rules[string(ct)+"/"+ch.Path]
	if !ok {
		r, ok = t.rules[ch.Path]
	}
	if !ok {
		if i := strings.LastIndexByte(ch.Path, '.'); i >= 0 {
			r, ok = t.rules[ch.Path[i+1:]]
		}
	}
	if !ok {
		r = t.fallback
	}
	t.mu.RUnlock()
	return r(ct, ch)
}

// DefaultTable encodes the built-in risk policy.
func DefaultTable() *Table {
	t := NewTable(nil)
	t.Set("match_found", flag(domain.CategorySanctionsMatch, domain.RiskCritical, 50))
	t.Set("insolvency_found", flag(domain.CategoryInsolvency, domain.RiskCritical, 40))
	t.Set("valid", validity)
	t.Set("entity_status", entityStatus)
	t.Set("registration_status", entityStatus)
	t.Set("name", Static(domain.CategoryDataChange, domain.RiskMedium, 5))
	t.Set("legal_form", Static(domain.CategoryDataChange, domain.RiskMedium, 5))
	t.Set("match_count", Static(domain.CategoryDataChange, domain.RiskMedium, 5))
	t.Set("proceedings_count", Static(domain.CategoryDataChange, domain.RiskMedium, 5))
	t.Set("address", Static(domain.CategoryDataChange, domain.RiskLow, 1))
	t.Set("registration_authority", Static(domain.CategoryDataChange, domain.RiskLow, 1))
	return t
}

// flag handles boolean findings: becoming true raises the category, clearing
// it is a low-impact data change with the negative delta.
func flag(cat domain.AlertCategory, impact domain.RiskLevel, delta float64) Rule {
	return func(_ domain.CheckType, ch Change) Classification {
		was, is := isTrue(ch.Old), isTrue(ch.New)
		switch {
		case is && !was:
			return Classification{Category: cat, Impact: impact, Delta: delta}
		case was && !is:
			return Classification{Category: domain.CategoryDataChange, Impact: domain.RiskLow, Delta: -delta}
		}
		return Classification{Category: domain.CategoryDataChange, Impact: domain.RiskLow}
	}
}

// validity treats a vanished valid flag like a false one: a registry that
// stops returning a record has stopped vouching for it.
func validity(ct domain.CheckType, ch Change) Classification {
	was, is := isTrue(ch.Old), isTrue(ch.New)
	switch {
	case was && !is, ch.Old == nil && ch.New != nil && !is:
		return Classification{Category: invalidCategory(ct), Impact: domain.RiskHigh, Delta: 20}
	case is && !was:
		return Classification{Category: domain.CategoryDataChange, Impact: domain.RiskLow, Delta: -20}
	}
	return Classification{Category: domain.CategoryDataChange, Impact: domain.RiskLow}
}

func entityStatus(ct domain.CheckType, ch Change) Classification {
	was, is := inactive(ch.Old), inactive(ch.New)
	switch {
	case is && !was:
		return Classification{Category: invalidCategory(ct), Impact: domain.RiskHigh, Delta: 20}
	case was && !is:
		return Classification{Category: domain.CategoryDataChange, Impact: domain.RiskLow, Delta: -20}
	}
	return Classification{Category: domain.CategoryDataChange, Impact: domain.RiskMedium, Delta: 5}
}

func invalidCategory(ct domain.CheckType) domain.AlertCategory {
	switch ct {
	case domain.CheckVAT:
		return domain.CategoryVATInvalid
	case domain.CheckLEI:
		return domain.CategoryLEIInvalid
	}
	return domain.CategoryDataChange
}

func isTrue(v *string) bool {
	return v != nil && strings.EqualFold(*v, "true")
}

func inactive(v *string) bool {
	return v != nil && domain.InactiveEntityStatus(*v)
}

// Override pins a key to a fixed classification regardless of transition.
func (t *Table) Override(key string, c Classification) {
	t.Set(key, Static(c.Category, c.Impact, c.Delta))
}
