package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Source     string
	Identifier string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid identifier %q: %s", e.Source, e.Identifier, e.Reason)
}

// UnavailableError reports a network, timeout or upstream failure.
// Transient failures are eligible for retry.
type UnavailableError struct {
	Source    string
	Transient bool
	Timeout   bool
	Attempts  int
	Err       error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s: data source unavailable", e.Source)
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RateLimitError reports that the caller's own budget for a source is spent.
type RateLimitError struct {
	Source string
	Budget int
	Window time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded (%d requests per %s)", e.Source, e.Budget, e.Window)
}

// IsTransient classifies an error as retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}
	var rerr *RateLimitError
	if errors.As(err, &rerr) {
		return false
	}
	var uerr *UnavailableError
	if errors.As(err, &uerr) {
		return uerr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// StatusFor maps an adapter error onto a result status.
func StatusFor(err error) Status {
	var verr *ValidationError
	var rerr *RateLimitError
	var uerr *UnavailableError
	switch {
	case err == nil:
		return StatusValid
	case errors.As(err, &verr):
		return StatusValidationError
	case errors.As(err, &rerr):
		return StatusRateLimited
	case errors.As(err, &uerr):
		if uerr.Timeout {
			return StatusTimeout
		}
		return StatusUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}
