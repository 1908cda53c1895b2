package alerts

import (
	"fmt"

	"kybmon/internal/domain"
)

var checkLabels = map[domain.CheckType]string{
	domain.CheckVAT:           "VAT registration",
	domain.CheckLEI:           "LEI record",
	domain.CheckSanctionsEU:   "EU sanctions list",
	domain.CheckSanctionsOFAC: "OFAC SDN list",
	domain.CheckSanctionsUK:   "UK sanctions list",
	domain.CheckInsolvencyDE:  "German insolvency register",
}

// FromDiff builds the alert for a qualifying diff. Severity is the diff's
// risk impact.
func FromDiff(subject domain.Subject, d domain.Diff) domain.Alert {
	diffID := d.ID
	oldV, newV := value(d.OldValue), value(d.NewValue)
	label := checkLabels[d.CheckType]
	if label == "" {
		label = string(d.CheckType)
	}

	var title, msg string
	switch d.Category {
	case domain.CategorySanctionsMatch:
		title = fmt.Sprintf("Sanctions match for %s", subject.Name)
		msg = fmt.Sprintf("%s now reports a match for %s (%s: %s -> %s). Review the listed entries before continuing business.",
			label, subject.Name, d.FieldPath, oldV, newV)
	case domain.CategoryVATInvalid:
		title = fmt.Sprintf("VAT number invalid for %s", subject.Name)
		msg = fmt.Sprintf("The %s of %s is no longer valid (%s: %s -> %s).", label, subject.Name, d.FieldPath, oldV, newV)
	case domain.CategoryLEIInvalid:
		title = fmt.Sprintf("LEI no longer active for %s", subject.Name)
		msg = fmt.Sprintf("The %s of %s changed from %s to %s (%s).", label, subject.Name, oldV, newV, d.FieldPath)
	case domain.CategoryInsolvency:
		title = fmt.Sprintf("Insolvency proceedings for %s", subject.Name)
		msg = fmt.Sprintf("The %s lists proceedings for %s (%s: %s -> %s).", label, subject.Name, d.FieldPath, oldV, newV)
	default:
		title = fmt.Sprintf("%s changed for %s", label, subject.Name)
		msg = fmt.Sprintf("%s of %s was %s: %s -> %s.", d.FieldPath, subject.Name, d.ChangeType, oldV, newV)
	}

	data := map[string]any{
		"check_type":  string(d.CheckType),
		"field_path":  d.FieldPath,
		"change_type": string(d.ChangeType),
		"risk_delta":  d.RiskDelta,
	}
	if d.OldValue != nil {
		data["old_value"] = *d.OldValue
	}
	if d.NewValue != nil {
		data["new_value"] = *d.NewValue
	}
	return domain.Alert{
		SubjectID: subject.ID,
		DiffID:    &diffID,
		Type:      d.Category,
		Severity:  d.RiskImpact,
		Title:     title,
		Message:   msg,
		Data:      data,
		Status:    domain.AlertOpen,
	}
}

func value(v *string) string {
	if v == nil {
		return "(none)"
	}
	return fmt.Sprintf("%q", *v)
}
