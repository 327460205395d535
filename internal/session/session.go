// Package session implements the download session lifecycle engine: it
// issues one-time tokens when a retrieval starts, accepts advisory progress
// reports, verifies completion within a size tolerance and commits counters
// and the owner's cooldown stamp in a single transaction.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Status of a download session. A session leaves started at most once;
// every other status is terminal.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is one retrieval attempt. ExpectedSize is a snapshot taken from
// the catalog at init time; later catalog edits do not affect sessions in
// flight.
type Session struct {
	Token         string
	OwnerID       string
	VersionID     int64
	ExpectedSize  int64
	ObservedBytes int64
	Status        Status
	IPAddress     string
	UserAgent     string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// ClientMeta is request metadata captured on the session row at init.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// InitResult is returned to the caller when a session opens.
type InitResult struct {
	Token        string
	ExpectedSize int64
	Filename     string
	DownloadURL  string
}

// NewToken returns a fresh unguessable session token: 32 random bytes,
// hex encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
