package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lokalert/apkdist/internal/audit"
	"github.com/lokalert/apkdist/internal/catalog"
	"github.com/lokalert/apkdist/internal/identity"
	"github.com/lokalert/apkdist/internal/logctx"
)

// Tolerance threshold: a retrieval counts as complete when at least 98% of
// the expected size was observed. The slack absorbs the gap between reported
// transfer size and true file size across client measurement strategies.
const (
	toleranceNum = 98
	toleranceDen = 100
)

// Engine drives the session state machine. All shared state lives behind the
// Store; concurrent calls on the same token are arbitrated by the store's
// transactional started-state guard, not by in-process locks.
type Engine struct {
	store   Store
	catalog catalog.Repository
	limiter *RateLimiter
	audit   *audit.BestEffort
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the engine's time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine wires the session engine with its collaborators.
func NewEngine(store Store, cat catalog.Repository, limiter *RateLimiter, sink *audit.BestEffort, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		catalog: cat,
		limiter: limiter,
		audit:   sink,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Init opens a download session for the caller. versionID zero resolves the
// catalog entry flagged latest. This is the only state-creating operation.
func (e *Engine) Init(ctx context.Context, caller identity.Identity, versionID int64, meta ClientMeta) (*InitResult, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthenticated
	}

	if !caller.Verified {
		return nil, ErrUnverified
	}

	if !e.limiter.CanStart(ctx, caller.UserID) {
		return nil, &CooldownActiveError{Remaining: e.limiter.Remaining(ctx, caller.UserID)}
	}

	v, err := e.resolveVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	s := &Session{
		Token:        token,
		OwnerID:      caller.UserID,
		VersionID:    v.ID,
		ExpectedSize: v.FileSize,
		Status:       StatusStarted,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		StartedAt:    e.now(),
	}

	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, &StorageError{Op: "create_session", Err: err}
	}

	logctx.LoggerFromContext(ctx).Info("download session opened",
		"owner_id", caller.UserID, "version_id", v.ID, "expected_size", v.FileSize)

	e.audit.Record(ctx, audit.Record{
		Actor:     caller.UserID,
		Action:    audit.ActionInit,
		SubjectID: token,
		Detail:    fmt.Sprintf("version=%s filename=%s ip=%s", v.Version, v.Filename, meta.IPAddress),
		Timestamp: e.now(),
	})

	return &InitResult{
		Token:        token,
		ExpectedSize: v.FileSize,
		Filename:     v.Filename,
		DownloadURL:  v.DownloadURL,
	}, nil
}

// Progress overwrites observed bytes on a started session. It is advisory:
// it never changes status and never fails the caller, whatever the token's
// state.
func (e *Engine) Progress(ctx context.Context, token string, observedBytes int64) {
	if observedBytes < 0 {
		observedBytes = 0
	}

	err := e.store.RecordProgress(ctx, token, observedBytes)
	if err != nil && !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrAlreadyResolved) {
		logctx.LoggerFromContext(ctx).Warn("failed to record progress", "err", err)
	}
}

// Complete verifies and credits a retrieval. On an accepted completion the
// session transition, the version counter and the owner profile commit as
// one transaction; a failure partway leaves the session started and
// retriable.
func (e *Engine) Complete(ctx context.Context, token string, observedBytes int64, clientVerified bool) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if observedBytes < 0 {
		observedBytes = 0
	}

	s, err := e.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return 0, &InvalidTokenError{Token: token}
		}

		return 0, &StorageError{Op: "get_session", Err: err}
	}

	if s.Status != StatusStarted {
		return 0, &InvalidTokenError{Token: token}
	}

	if !retrievalGenuine(s.ExpectedSize, observedBytes, clientVerified) {
		if err := e.store.FailSession(ctx, token, observedBytes, e.now()); err != nil {
			if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrSessionNotFound) {
				return 0, &InvalidTokenError{Token: token}
			}

			return 0, &StorageError{Op: "fail_session", Err: err}
		}

		logger.Warn("download completion rejected",
			"owner_id", s.OwnerID, "observed_bytes", observedBytes, "expected_size", s.ExpectedSize)

		e.audit.Record(ctx, audit.Record{
			Actor:     s.OwnerID,
			Action:    audit.ActionCompleteFailed,
			SubjectID: token,
			Detail:    fmt.Sprintf("observed=%d expected=%d", observedBytes, s.ExpectedSize),
			Timestamp: e.now(),
		})

		return 0, &SizeMismatchError{Observed: observedBytes, Expected: s.ExpectedSize}
	}

	stamped := observedBytes
	if stamped == 0 {
		stamped = s.ExpectedSize
	}

	total, err := e.store.CompleteSession(ctx, token, stamped, e.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrSessionNotFound) {
			return 0, &InvalidTokenError{Token: token}
		}

		return 0, &StorageError{Op: "complete_session", Err: err}
	}

	logger.Info("download completed",
		"owner_id", s.OwnerID, "version_id", s.VersionID, "observed_bytes", stamped, "total_completions", total)

	detail := fmt.Sprintf("observed=%d expected=%d", stamped, s.ExpectedSize)
	if clientVerified {
		detail += " vouched=true"
	}

	e.audit.Record(ctx, audit.Record{
		Actor:     s.OwnerID,
		Action:    audit.ActionComplete,
		SubjectID: token,
		Detail:    detail,
		Timestamp: e.now(),
	})

	return total, nil
}

// Cancel finalises a started session without touching counters: cancelled
// for a deliberate abort, failed for an error reason. It is a no-op on
// unknown or already terminal tokens, so an aborted retrieval never consumes
// the cooldown. The return value reports whether a session was actually
// finalised; callers ack either way.
func (e *Engine) Cancel(ctx context.Context, token, reason string) bool {
	logger := logctx.LoggerFromContext(ctx)

	s, err := e.store.GetSession(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			logger.Warn("failed to load session for cancel", "err", err)
		}

		return false
	}

	if s.Status != StatusStarted {
		return false
	}

	terminal := StatusCancelled
	if errorReason(reason) {
		terminal = StatusFailed
	}

	if err := e.store.CancelSession(ctx, token, terminal, e.now()); err != nil {
		if !errors.Is(err, ErrAlreadyResolved) && !errors.Is(err, ErrSessionNotFound) {
			logger.Warn("failed to cancel session", "err", err)
		}

		return false
	}

	logger.Info("download session closed", "owner_id", s.OwnerID, "terminal", string(terminal), "reason", reason)

	e.audit.Record(ctx, audit.Record{
		Actor:     s.OwnerID,
		Action:    audit.ActionCancel,
		SubjectID: token,
		Detail:    fmt.Sprintf("reason=%s terminal=%s", reason, terminal),
		Timestamp: e.now(),
	})

	return true
}

// CooldownStatus reports whether the owner may start a download and how long
// until they may if not.
func (e *Engine) CooldownStatus(ctx context.Context, ownerID string) (bool, time.Duration) {
	if e.limiter.CanStart(ctx, ownerID) {
		return true, 0
	}

	return false, e.limiter.Remaining(ctx, ownerID)
}

func (e *Engine) resolveVersion(ctx context.Context, versionID int64) (*catalog.Version, error) {
	var (
		v   *catalog.Version
		err error
	)

	if versionID == 0 {
		v, err = e.catalog.Latest(ctx)
	} else {
		v, err = e.catalog.Get(ctx, versionID)
	}

	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("resolve version %d: %w", versionID, err)
		}

		return nil, &StorageError{Op: "resolve_version", Err: err}
	}

	return v, nil
}

// retrievalGenuine applies the integrity check: at least 98% of the expected
// size observed (inclusive boundary, integer floor), or the client vouched
// for a retrieval the engine cannot observe. A zero expected size means the
// size is unknown and there is nothing to compare against.
func retrievalGenuine(expectedSize, observedBytes int64, clientVerified bool) bool {
	if clientVerified {
		return true
	}

	return observedBytes >= expectedSize*toleranceNum/toleranceDen
}

func errorReason(reason string) bool {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "error", "failed", "failure", "network-error":
		return true
	default:
		return false
	}
}
