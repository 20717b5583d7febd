package signoff

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("signoff: no store configured")
	ErrStoreClosed     = errors.New("signoff: store closed")
	ErrStoreFailure    = errors.New("signoff: store failure")
	ErrMigrationFailed = errors.New("signoff: migration failed")

	// Validation errors.
	ErrValidation = errors.New("signoff: validation failed")

	// Not found errors.
	ErrNotFound        = errors.New("signoff: not found")
	ErrVersionNotFound = fmt.Errorf("%w: workflow version", ErrNotFound)
	ErrGroupNotFound   = fmt.Errorf("%w: workflow group", ErrNotFound)
	ErrTaskNotFound    = fmt.Errorf("%w: human task", ErrNotFound)
	ErrWaitNotFound    = fmt.Errorf("%w: wait record", ErrNotFound)
	ErrRunNotFound     = fmt.Errorf("%w: workflow run", ErrNotFound)

	// Conflict errors.
	ErrConflict      = errors.New("signoff: conflict")
	ErrWaitConflict  = fmt.Errorf("%w: wait already registered", ErrConflict)
	ErrStaleVersion  = fmt.Errorf("%w: version is no longer latest", ErrConflict)
	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrConflict)
	ErrTaskPending   = fmt.Errorf("%w: version already has a pending task", ErrConflict)

	// State errors.
	ErrInvalidState = errors.New("signoff: invalid state transition")
)

// ValidationError describes a malformed trigger or decision payload.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "signoff: validation failed: " + e.Reason
	}
	return fmt.Sprintf("signoff: validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// StoreError wraps a backend failure so that it matches ErrStoreFailure
// while keeping the driver error reachable through errors.As.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreFailure)
}
