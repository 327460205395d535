package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a token.
var ErrSessionNotFound = errors.New("session not found")

// ErrAlreadyResolved is returned when a terminal transition is attempted on
// a session that already left the started state. Concurrent complete calls
// racing on the same token are discriminated by this error: exactly one
// caller wins, the rest observe ErrAlreadyResolved.
var ErrAlreadyResolved = errors.New("session already resolved")

// Store is the session ledger. Implementations must make CompleteSession a
// single atomically committed transaction: the started-state guard, the
// version download counter and the owner profile stamp commit together or
// not at all.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)

	// RecordProgress overwrites observed bytes on a started session.
	// Progress on unknown or terminal sessions affects nothing.
	RecordProgress(ctx context.Context, token string, observedBytes int64) error

	// CompleteSession transitions started -> completed, increments the
	// version's download counter and stamps the owner's profile, returning
	// the owner's new completion total.
	CompleteSession(ctx context.Context, token string, observedBytes int64, completedAt time.Time) (int64, error)

	// FailSession transitions started -> failed, persisting the reported
	// observed bytes. No counters are touched.
	FailSession(ctx context.Context, token string, observedBytes int64, completedAt time.Time) error

	// CancelSession transitions started -> cancelled or failed depending on
	// terminal. No counters are touched.
	CancelSession(ctx context.Context, token string, terminal Status, completedAt time.Time) error

	// LastCompletedAt returns the owner's most recent successful completion,
	// or nil if they never completed a download.
	LastCompletedAt(ctx context.Context, ownerID string) (*time.Time, error)
}
