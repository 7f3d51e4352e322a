/*
errors.go - Centralized error types for the ledger core

ERROR CATEGORIES:
  1. Client errors - malformed operations, business rejections
  2. Concurrency errors - optimistic lock conflicts, contention
  3. Infrastructure errors - the store is unreachable or timing out

Callers classify with errors.Is or the helpers at the bottom; the API
layer maps each category to a distinct HTTP status so a client can tell
"don't retry" from "retry with the same token".
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
	// ErrInvalidOperation is returned for malformed input (non-positive
	// amount, missing required account). Rejected before any store access.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInsufficientFunds is the business rejection for withdraw/transfer
	// exceeding the source balance. The rejection is still recorded as a
	// ledger entry and is idempotent under retry.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrContention is surfaced after the engine exhausts its internal
	// retries against optimistic-version conflicts.
	ErrContention = errors.New("account contention")

	// ErrStoreUnavailable wraps infrastructure failures from the ledger
	// store. Safe to resubmit with the same idempotency token.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrDuplicateToken is returned when an idempotency token is reused
	// with a different payload. This signals a caller bug, not a retry.
	ErrDuplicateToken = errors.New("idempotency token reused with mismatched payload")

	// ErrVersionConflict is returned by stores when a conditional write
	// observes a stale account version. The engine retries internally;
	// it never escapes Apply.
	ErrVersionConflict = errors.New("account version conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidOperationError reports which part of the operation was malformed.
type InvalidOperationError struct {
	Field  string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation: %s: %s", e.Field, e.Reason)
}

func (e *InvalidOperationError) Unwrap() error { return ErrInvalidOperation }

// InsufficientFundsError reports the shortfall on a rejected operation.
type InsufficientFundsError struct {
	Source    AccountRef
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %d, requested %d",
		e.Source, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ContentionError reports how many attempts were made before giving up.
type ContentionError struct {
	Token    string
	Attempts int
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("account contention: token %s gave up after %d attempts", e.Token, e.Attempts)
}

func (e *ContentionError) Unwrap() error { return ErrContention }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if resubmitting with the same token might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to the caller's input
// and must not be retried unchanged.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrDuplicateToken)
}
