// Package connectors is the resilient adapter layer shared by every data
// source: response cache, fixed-window rate limiting, retry with exponential
// backoff and bounded-concurrency batches around a narrow Connector contract.
package connectors

import (
	"time"

	"kybmon/internal/domain"
)

// Status is the outcome carried by a Result.
type Status string

const (
	StatusValid           Status = "valid"
	StatusInvalid         Status = "invalid"
	StatusNotFound        Status = "not_found"
	StatusMatch           Status = "match"
	StatusNoMatch         Status = "no_match"
	StatusError           Status = "error"
	StatusTimeout         Status = "timeout"
	StatusUnavailable     Status = "unavailable"
	StatusValidationError Status = "validation_error"
	StatusRateLimited     Status = "rate_limited"
)

// Settled statuses are authoritative and cacheable.
func (s Status) Settled() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusNotFound, StatusMatch, StatusNoMatch:
		return true
	}
	return false
}

// SnapshotStatus maps an adapter status onto the persisted snapshot status.
func (s Status) SnapshotStatus() domain.SnapshotStatus {
	switch s {
	case StatusValid, StatusInvalid, StatusNotFound, StatusMatch, StatusNoMatch, StatusTimeout, StatusUnavailable:
		return domain.SnapshotStatus(s)
	case StatusRateLimited:
		return domain.StatusUnavailable
	default:
		return domain.StatusError
	}
}

// Options are request modifiers that change what a source returns, e.g.
// relationship expansion. They are part of the cache key.
type Options map[string]string

// Result is the envelope every adapter call returns.
type Result struct {
	Identifier     string         `json:"identifier"`
	Status         Status         `json:"status"`
	Source         string         `json:"source"`
	CheckedAt      time.Time      `json:"checked_at"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Cached         bool           `json:"cached"`
	Stale          bool           `json:"stale,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
}
