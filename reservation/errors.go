/*
errors.go - Centralized error types for the reservation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store drivers translate their native errors into these sentinels so the
  engine and the HTTP layer never look at driver-specific codes.

ERROR CATEGORIES:
  1. Validation errors - Malformed requests, rejected before any mutation
  2. Not-found errors  - Unknown run, class, train, station or PNR
  3. Conflict errors   - Transient contention; the whole operation is retried
  4. Invariant errors  - Counter corruption; a defect, never committed

USAGE:
  if errors.Is(err, reservation.ErrPNRNotFound) {
      // 404
  }
  if reservation.IsRetryable(err) {
      // re-run the read-modify-write from scratch
  }

SEE ALSO:
  - engine.go: Bounded retry on IsRetryable
  - store/sqlstore/dialect.go: Driver error mapping
*/
package reservation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("invalid request")

	// ErrReasonRequired is returned when a cancellation carries no reason.
	ErrReasonRequired = errors.New("cancellation reason required")

	// ErrRunDeparted is returned when booking a run at or after its departure.
	ErrRunDeparted = errors.New("run has already departed")

	ErrRunNotFound     = errors.New("run not found")
	ErrClassNotFound   = errors.New("class not found for run")
	ErrTrainNotFound   = errors.New("train not found")
	ErrStationNotFound = errors.New("station not found")
	ErrPNRNotFound     = errors.New("pnr not found")

	// ErrConflict signals transient contention on an inventory row
	// (lock timeout, deadlock, serialization failure).
	ErrConflict = errors.New("concurrent modification detected")

	// ErrDuplicatePNR is returned by the store when a PNR is already taken.
	// The engine treats it like a conflict and regenerates.
	ErrDuplicatePNR = errors.New("duplicate pnr")

	// ErrInvariantViolation is wrapped by every *InvariantError.
	ErrInvariantViolation = errors.New("inventory invariant violated")

	// ErrPNRSpaceExhausted means every generated candidate collided.
	ErrPNRSpaceExhausted = errors.New("could not generate a unique pnr")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending request field.
type ValidationError struct {
	Field  string
	Reason string
	cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrValidation, e.cause}
	}
	return []error{ErrValidation}
}

// InvariantError describes a broken counter invariant.
type InvariantError struct {
	Key    InventoryKey
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated on %s: %s", e.Key, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-running the operation from scratch may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicatePNR)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrReasonRequired)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrTrainNotFound) ||
		errors.Is(err, ErrStationNotFound) ||
		errors.Is(err, ErrPNRNotFound)
}
