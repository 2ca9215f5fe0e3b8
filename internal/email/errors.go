package email

import (
	"errors"
	"fmt"
)

// ErrAccountBusy is returned when a fetch or listen session already holds the account
var ErrAccountBusy = errors.New("account has an active session")

// ErrNotListening is returned when no listen session is active for the account
var ErrNotListening = errors.New("account is not listening")

// ErrAccountInactive is returned when fetching from a deactivated account
var ErrAccountInactive = errors.New("account is inactive")

// ConnectionError reports a failure to connect, authenticate or select a mailbox.
// It aborts the whole fetch or listen attempt.
type ConnectionError struct {
	Account string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap %s failed for account %s: %v", e.Op, e.Account, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a *ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ParseError reports a message that could not be decoded. The message is skipped.
type ParseError struct {
	SeqNum uint32
	UID    uint32
	Size   int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message seq=%d uid=%d (%d bytes): %v", e.SeqNum, e.UID, e.Size, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is or wraps a *ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
