package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthenticated is returned when no identity was supplied.
var ErrUnauthenticated = errors.New("authentication required")

// ErrUnverified is returned when the identity exists but is not verified.
// Recoverable by the user; not a fault.
var ErrUnverified = errors.New("verified account required")

// CooldownActiveError rejects an init attempt inside the cooldown window.
type CooldownActiveError struct {
	Remaining time.Duration // time until the owner may start again
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("download cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// InvalidTokenError covers tokens that are unknown or already terminal.
// The two cases are deliberately indistinguishable to the caller.
type InvalidTokenError struct {
	Token string
}

func (e *InvalidTokenError) Error() string {
	return "invalid or already processed download token"
}

// SizeMismatchError carries both sizes so the client can decide whether to
// retry the retrieval.
type SizeMismatchError struct {
	Observed int64
	Expected int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("incomplete download: observed %d of %d expected bytes", e.Observed, e.Expected)
}

// StorageError wraps a failed storage operation. This is the only error
// class a caller should retry; the session is guaranteed to remain in its
// pre-transaction state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
