package cache

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// ConflictError is returned when a message identifier already exists for the account
type ConflictError struct {
	AccountID string
	MessageID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("message %s already stored for account %s", e.MessageID, e.AccountID)
}

// IsConflict reports whether err is or wraps a *ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// PersistenceError is a storage failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
