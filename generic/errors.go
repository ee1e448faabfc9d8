/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Services return these (wrapped with context) and the HTTP layer maps
  them to status codes with errors.Is / errors.As.

ERROR CATEGORIES:
  1. ValidationError          - malformed input, never retried
  2. ConflictError            - illegal state transition or duplicate, never retried
  3. InsufficientBalanceError - use() beyond remaining, never retried
  4. TransientError           - remote call failed after bounded retries
  5. InvariantViolationError  - a bug; logged and the operation aborted
  6. NotFoundError            - referenced record does not exist

SEE ALSO:
  - retry.go: Decides which errors are worth retrying
  - api/errors.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks an illegal state transition or a duplicate record.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientBalance is returned when a debit exceeds the remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransient marks a remote failure that exhausted its retries.
	ErrTransient = errors.New("transient failure")

	// ErrInvariantViolation marks corrupted state. It indicates a bug.
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdempotencyKey is returned by stores when a write with the
	// same idempotency key already exists. Services treat it as a replay.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError describes a rejected state transition.
type ConflictError struct {
	Resource string
	ID       string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Message)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  Amount
	Requested  Amount
	Shortfall  Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s, shortfall %s",
		e.EmployeeID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// TransientError is what a retried call returns once its attempts are spent.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last underlying error.
func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// InvariantViolationError reports state that must never exist.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %q violated: %s", e.Invariant, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// NotFoundError names the missing record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or
// the current business state. Such errors are never retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNotFound)
}

// IsPermanent is true for errors a retry cannot fix.
func IsPermanent(err error) bool {
	return IsClientError(err) || errors.Is(err, ErrInvariantViolation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
