package ledger

import (
	"errors"
	"fmt"
)

// Caller errors. They are reported immediately and never retried.
var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidSigner  = errors.New("signer id must not be empty")
	ErrInvalidAction  = errors.New("invalid action")
	ErrInvalidRange   = errors.New("invalid range")
)

// ErrNotFound is returned when no entry matches a hash or sequence number.
var ErrNotFound = errors.New("ledger entry not found")

// ErrChainConflict is returned by a Store when a conditional append finds
// that the tail no longer matches the entry's predecessor. Ledger.Append
// handles it internally by re-reading the tail.
var ErrChainConflict = errors.New("ledger tail changed")

// ErrPersistence matches every *PersistenceError via errors.Is.
var ErrPersistence = errors.New("ledger persistence failure")

// ReasonConflict is the PersistenceError reason used when conflict retries
// are exhausted.
const ReasonConflict = "conflict"

// PersistenceError reports a failed or unconfirmed durable operation.
// It is safe to retry; a retried Append re-reads the tail.
type PersistenceError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// IsConflict reports whether err is a PersistenceError caused by exhausted
// conflict retries.
func IsConflict(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Reason == ReasonConflict
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
