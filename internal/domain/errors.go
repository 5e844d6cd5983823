package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound          = errors.New("domain: not found")
	ErrConflict          = errors.New("domain: conflict")
	ErrInvalidTransition = errors.New("domain: invalid state transition")

	// ErrNotFinalized is returned when a daily build targets a day that is not
	// yet closed in the company's timezone. The caller reschedules.
	ErrNotFinalized = errors.New("domain: day not finalized")

	// ErrEmptyDay is returned when a finalized day has no events. No DailyRoot
	// is produced for it.
	ErrEmptyDay = errors.New("domain: no events for day")

	// ErrAlreadySealed is reported by the provider when the subject was already
	// notarized. Treated as success.
	ErrAlreadySealed = errors.New("domain: subject already sealed")

	// ErrMalformedPayload marks a request the provider rejected as invalid.
	// Terminal for the evidence it belongs to.
	ErrMalformedPayload = errors.New("domain: malformed payload")
)

// ValidationError reports bad caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderError wraps a network, timeout or 5xx failure talking to the QTSP.
// Evidence hit by a ProviderError is marked failed and stays retryable.
type ProviderError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("provider %s: timeout: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IntegrityError is raised when a recomputed hash does not match the stored one.
// Item names the offending element (e.g. "daily_root:2026-01-15").
type IntegrityError struct {
	Item     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s: expected %s, got %s", e.Item, e.Expected, e.Actual)
}

// IsRetryable reports whether err should leave evidence eligible for retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedPayload) {
		return false
	}
	var ve *ValidationError
	return !errors.As(err, &ve)
}
