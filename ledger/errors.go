/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against the
  sentinels or errors.As against the structured types.

ERROR CATEGORIES:
  1. NotFound    - unknown transaction or account holder id
  2. Validation  - malformed payload or illegal field combination
  3. Conflict    - stale document version, referenced holder, cancelled edit
  4. Storage     - the document store is unavailable or failed

SEE ALSO:
  - api/handlers.go: handleServiceError maps these to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage unavailable")

	// ErrConcurrentModification is returned when a document was written by
	// someone else between our read and our write.
	ErrConcurrentModification = fmt.Errorf("concurrent modification detected: %w", ErrConflict)

	// ErrTransactionCancelled is returned when an economic field of a
	// cancelled transaction is edited.
	ErrTransactionCancelled = fmt.Errorf("transaction is cancelled: %w", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string // "transaction", "account_holder"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError describes a bad input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a state conflict on a resource.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StorageError wraps a failure of the underlying document store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStorage)
}
