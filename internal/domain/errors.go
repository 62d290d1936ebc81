package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
	ErrExternalService   = errors.New("external service failure")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
)

// ValidationError reports bad strategy, factor or order configuration. It is
// raised before any brokerage call is made.
type ValidationError struct {
	Field    string
	Problems []string
}

func NewValidationError(field string, problems ...string) *ValidationError {
	return &ValidationError{Field: field, Problems: problems}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ExternalServiceError wraps a failed call to the brokerage or another remote
// dependency (non-2xx response, timeout, transport failure).
type ExternalServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// Temporary reports whether the failure is worth retrying: transport errors,
// timeouts, 429 and 5xx responses.
func (e *ExternalServiceError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Rejected reports whether the remote service refused the request outright
// (4xx other than 429). A rejected order will never be accepted on retry.
func (e *ExternalServiceError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Entity, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError signals a duplicate in-flight trade or a lost compare-and-set.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("%s conflict on %s", e.Entity, e.Key) }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsRejection reports whether err carries a definitive refusal from the
// brokerage.
func IsRejection(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Rejected()
}

// IsTemporary reports whether err is a retryable external failure.
func IsTemporary(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Temporary()
}
