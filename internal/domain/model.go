package domain

import (
	"errors"
	"strings"
	"time"
)

// Core domain models. Persistence lives behind internal/ports; keep these
// free of storage concerns.

var (
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
)

type SubjectStatus string

const (
	SubjectActive      SubjectStatus = "active"
	SubjectInactive    SubjectStatus = "inactive"
	SubjectBlocked     SubjectStatus = "blocked"
	SubjectUnderReview SubjectStatus = "under_review"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Interval maps a frequency to a re-check interval. Unknown values are daily.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Subject is a business entity under surveillance.
type Subject struct {
	ID                 string
	TenantID           string
	Name               string
	VATNumber          *string
	LEI                *string
	RegistrationNumber *string
	CountryCode        string
	Website            *string
	MonitoringEnabled  bool
	Frequency          Frequency
	RiskScore          float64
	RiskLevel          RiskLevel
	Status             SubjectStatus
	LastChecked        *time.Time
	NextCheck          *time.Time
	DeletedAt          *time.Time
	CreatedAt          time.Time
}

type CheckType string

const (
	CheckVAT           CheckType = "vat"
	CheckLEI           CheckType = "lei"
	CheckSanctionsEU   CheckType = "sanctions_eu"
	CheckSanctionsOFAC CheckType = "sanctions_ofac"
	CheckSanctionsUK   CheckType = "sanctions_uk"
	CheckInsolvencyDE  CheckType = "insolvency_de"
)

// CheckTypes lists every check type the pipeline knows.
var CheckTypes = []CheckType{CheckVAT, CheckLEI, CheckSanctionsEU, CheckSanctionsOFAC, CheckSanctionsUK, CheckInsolvencyDE}

// Source names the data provider that serves a check type.
func (c CheckType) Source() string {
	switch c {
	case CheckVAT:
		return "vies"
	case CheckLEI:
		return "gleif"
	case CheckSanctionsEU:
		return "eu_sanctions"
	case CheckSanctionsOFAC:
		return "ofac"
	case CheckSanctionsUK:
		return "uk_sanctions"
	case CheckInsolvencyDE:
		return "de_insolvency"
	}
	return string(c)
}

func (c CheckType) IsSanctions() bool {
	return c == CheckSanctionsEU || c == CheckSanctionsOFAC || c == CheckSanctionsUK
}

// SnapshotStatus mirrors the adapter result status persisted with a snapshot.
type SnapshotStatus string

const (
	StatusValid       SnapshotStatus = "valid"
	StatusInvalid     SnapshotStatus = "invalid"
	StatusNotFound    SnapshotStatus = "not_found"
	StatusMatch       SnapshotStatus = "match"
	StatusNoMatch     SnapshotStatus = "no_match"
	StatusError       SnapshotStatus = "error"
	StatusTimeout     SnapshotStatus = "timeout"
	StatusUnavailable SnapshotStatus = "unavailable"
)

// Settled reports whether the status is an authoritative observation that
// can be compared against later ones.
func (s SnapshotStatus) Settled() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusNotFound, StatusMatch, StatusNoMatch:
		return true
	}
	return false
}

var inactiveEntityStates = map[string]bool{
	"inactive":         true,
	"lapsed":           true,
	"retired":          true,
	"annulled":         true,
	"merged":           true,
	"duplicate":        true,
	"pending_archival": true,
	"dissolved":        true,
	"deregistered":     true,
}

// InactiveEntityStatus reports whether a registry entity or registration
// status means the entity no longer operates. Matching is case-insensitive.
func InactiveEntityStatus(status string) bool {
	return inactiveEntityStates[strings.ToLower(strings.TrimSpace(status))]
}

// Snapshot is one immutable observation of a subject for one check type.
type Snapshot struct {
	ID             string
	SubjectID      string
	Source         string
	CheckType      CheckType
	ContentHash    string
	RawPayload     map[string]any
	Normalized     map[string]string
	Status         SnapshotStatus
	ResponseTimeMs int64
	ErrorMessage   *string
	CreatedAt      time.Time
}

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Diff is a field-level change between two snapshots of the same check type.
type Diff struct {
	ID             string
	SubjectID      string
	CheckType      CheckType
	OldSnapshotID  *string
	NewSnapshotID  string
	FieldPath      string
	OldValue       *string
	NewValue       *string
	ChangeType     ChangeType
	Category       AlertCategory
	RiskImpact     RiskLevel
	RiskDelta      float64
	Processed      bool
	AlertGenerated bool
	CreatedAt      time.Time
}
