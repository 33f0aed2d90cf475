package ledger

import (
	"errors"
	"fmt"
)

// Centralized ledger errors. Callers branch with errors.Is; structured
// errors wrap the sentinel they refine.

var (
	// ErrTransactionNotFound is returned for reads of unknown ids.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrCategoryNotFound is returned when the category does not exist
	// in the catalog.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrVersionConflict is the optimistic-lock failure: zero rows
	// matched (id, expectedVersion).
	ErrVersionConflict = errors.New("version conflict")

	// ErrConcurrentModification is returned after UpdateWithRetry
	// exhausts its attempts on ErrVersionConflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateTransaction rejects a create matching (owner,
	// category, amount) within the duplicate window.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrValidation covers malformed input: amount bounds, category
	// mismatch, description length.
	ErrValidation = errors.New("validation failed")

	// ErrEditForbidden is the policy denial from the edit-permission
	// matrix.
	ErrEditForbidden = errors.New("edit forbidden")

	// ErrStorageUnavailable marks the persistence layer as down. Fatal
	// for the current cycle; the outer scheduler retries on next tick.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError carries the field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// EditForbiddenError explains which rule denied the edit.
type EditForbiddenError struct {
	Reason string
}

func (e *EditForbiddenError) Error() string {
	return fmt.Sprintf("edit forbidden: %s", e.Reason)
}

func (e *EditForbiddenError) Unwrap() error { return ErrEditForbidden }

// IsRetryable reports whether the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
