package domain

import (
	"fmt"
	"time"
)

type AlertCategory string

const (
	CategorySanctionsMatch AlertCategory = "sanctions_match"
	CategoryVATInvalid     AlertCategory = "vat_invalid"
	CategoryLEIInvalid     AlertCategory = "lei_invalid"
	CategoryInsolvency     AlertCategory = "insolvency"
	CategoryDataChange     AlertCategory = "data_change"
	CategoryRiskThreshold  AlertCategory = "risk_threshold"
)

type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAcknowledged  AlertStatus = "acknowledged"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

func (s AlertStatus) Closed() bool {
	return s == AlertResolved || s == AlertFalsePositive
}

// Alert is a risk-bearing event that needs a human decision.
type Alert struct {
	ID               string
	SubjectID        string
	DiffID           *string
	Type             AlertCategory
	Severity         RiskLevel
	Title            string
	Message          string
	Data             map[string]any
	Status           AlertStatus
	AcknowledgedBy   *string
	AcknowledgedAt   *time.Time
	AckNotes         *string
	ResolvedBy       *string
	ResolvedAt       *time.Time
	ResolutionNotes  *string
	NotificationSent bool
	CreatedAt        time.Time
}

// Acknowledge moves an open alert to acknowledged.
func (a *Alert) Acknowledge(userID string, notes string, at time.Time) error {
	if a.Status != AlertOpen {
		return a.conflict("acknowledge")
	}
	a.Status = AlertAcknowledged
	a.AcknowledgedBy = &userID
	a.AcknowledgedAt = &at
	if notes != "" {
		a.AckNotes = &notes
	}
	return nil
}

// Resolve closes an open or acknowledged alert.
func (a *Alert) Resolve(userID string, notes string, at time.Time) error {
	if a.Status != AlertOpen && a.Status != AlertAcknowledged {
		return a.conflict("resolve")
	}
	a.close(AlertResolved, userID, notes, at)
	return nil
}

// MarkFalsePositive closes an open alert as a false positive.
func (a *Alert) MarkFalsePositive(userID string, notes string, at time.Time) error {
	if a.Status != AlertOpen {
		return a.conflict("mark false positive")
	}
	a.close(AlertFalsePositive, userID, notes, at)
	return nil
}

func (a *Alert) close(status AlertStatus, userID, notes string, at time.Time) {
	a.Status = status
	a.ResolvedBy = &userID
	a.ResolvedAt = &at
	if notes != "" {
		a.ResolutionNotes = &notes
	}
}

func (a *Alert) conflict(op string) error {
	return fmt.Errorf("cannot %s alert %s in status %s: %w", op, a.ID, a.Status, ErrStateConflict)
}
