package pnw

import (
	"errors"
	"fmt"
)

// ErrKind classifies API failures so callers can pick the right recovery
// path: retryable kinds feed the scheduler's backoff, not_found feeds the
// failure-count-to-inactive path.
type ErrKind string

const (
	ErrKindTransient   ErrKind = "transient"
	ErrKindRateLimited ErrKind = "rate_limited"
	ErrKindNotFound    ErrKind = "not_found"
)

// APIError is the error type for all failures originating from the
// Politics & War API.
type APIError struct {
	Kind    ErrKind
	Status  int // HTTP status, 0 for network-level failures
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("pnw api %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("pnw api %s: %s", e.Kind, e.Message)
}

func kindOf(err error) (ErrKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrKindRateLimited
}

// IsNotFound reports whether err means the nation does not exist.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrKindNotFound
}

// IsRetryable reports whether err should feed the backoff-reschedule path.
func IsRetryable(err error) bool {
	k, ok := kindOf(err)
	return ok && (k == ErrKindTransient || k == ErrKindRateLimited)
}
