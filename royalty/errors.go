/*
errors.go - Centralized error types for the accounting engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to HTTP statuses; the engine wraps them
  with settlement/distribution context.

ERROR CATEGORIES:
  1. Validation errors - rejected before any store interaction
  2. Not-found errors  - referenced song/investment missing, no writes
  3. Concurrency/transient errors - retried, then surfaced
  4. Idempotence signals - duplicate event / duplicate payout; callers
     treat these as no-ops, not failures

USAGE:
  if errors.Is(err, royalty.ErrSongNotFound) { ... }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package royalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSongNotFound is returned when a referenced song doesn't exist
	// or is inactive. No writes are performed.
	ErrSongNotFound = errors.New("song not found")

	// ErrInvestmentNotFound is returned when a referenced investment
	// doesn't exist.
	ErrInvestmentNotFound = errors.New("investment not found")

	// ErrInvalidAmount is returned for non-positive or below-minimum
	// contribution amounts. Rejected before any store interaction.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPeriod is returned for malformed period labels.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrConcurrentConflict is returned by stores that detect a
	// conflicting write via optimistic locking. The engine retries the
	// whole settlement from a fresh read.
	ErrConcurrentConflict = errors.New("concurrent modification detected")

	// ErrTransientFailure is surfaced after the bounded retry count for
	// ErrConcurrentConflict is exhausted.
	ErrTransientFailure = errors.New("transient failure: retries exhausted")

	// ErrDuplicateEvent signals a redelivered payment event. Settlement
	// treats it as an idempotent no-op.
	ErrDuplicateEvent = errors.New("payment event already processed")

	// ErrDuplicatePayout signals that a period has already been
	// distributed for an investment. Distribution treats it as a no-op.
	ErrDuplicatePayout = errors.New("payout already exists for period")

	// ErrSongHasInvestors is returned when deactivating a song whose
	// invested total is non-zero.
	ErrSongHasInvestors = errors.New("song has outstanding investments")

	// ErrDuplicateTitle is returned when an artist lists two active
	// songs with the same title.
	ErrDuplicateTitle = errors.New("duplicate song title for artist")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError reports why a contribution amount was rejected.
type InvalidAmountError struct {
	Amount string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// TransientFailureError reports an exhausted settlement retry loop.
type TransientFailureError struct {
	SongID   SongID
	Attempts int
	Last     error
}

func (e *TransientFailureError) Error() string {
	return fmt.Sprintf("settlement for song %s failed after %d attempts: %v",
		e.SongID, e.Attempts, e.Last)
}

func (e *TransientFailureError) Unwrap() error {
	return ErrTransientFailure
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSongNotFound) ||
		errors.Is(err, ErrInvestmentNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrDuplicateTitle) ||
		errors.Is(err, ErrSongHasInvestors)
}
