package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input to an engine operation. The caller
	// must correct the input; retrying does not help.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced user or activity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInconsistentState marks stored data that violates a domain invariant
	// (future timestamp, NaN gains, negative stored EXP). The operation aborts
	// before any mutation.
	ErrInconsistentState = errors.New("inconsistent state")
	// ErrPersistence wraps repository failures. After a successful rollback the
	// whole operation may be retried.
	ErrPersistence = errors.New("persistence failure")
)

// RollbackFailedError reports the unrecoverable case: the second persistence
// phase failed and undoing the first phase failed as well. It must be
// surfaced to the user verbatim; no automatic recovery is attempted.
type RollbackFailedError struct {
	Cause       error
	RollbackErr error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("persistence failed (%v) and rollback failed (%v): data may be inconsistent", e.Cause, e.RollbackErr)
}

// Unwrap lets errors.Is(err, ErrPersistence) match the fatal case too.
func (e *RollbackFailedError) Unwrap() error {
	return ErrPersistence
}
