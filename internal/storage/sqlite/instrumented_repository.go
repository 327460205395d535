package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lokalert/apkdist/internal/session"
	"github.com/lokalert/apkdist/internal/telemetry"
)

// InstrumentedSessionRepository wraps SessionRepository with telemetry.
type InstrumentedSessionRepository struct {
	repo      *SessionRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSessionRepository creates a new instrumented session repository.
func NewInstrumentedSessionRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedSessionRepository {
	return &InstrumentedSessionRepository{
		repo:      NewSessionRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedSessionRepository) CreateSession(ctx context.Context, s *session.Session) error {
	return r.telemetry.InstrumentDBOperation(ctx, "create_session", func(ctx context.Context) error {
		return r.repo.CreateSession(ctx, s)
	})
}

func (r *InstrumentedSessionRepository) GetSession(ctx context.Context, token string) (*session.Session, error) {
	var result *session.Session

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_session", func(ctx context.Context) error {
		result, err = r.repo.GetSession(ctx, token)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedSessionRepository) RecordProgress(ctx context.Context, token string, observedBytes int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_progress", func(ctx context.Context) error {
		return r.repo.RecordProgress(ctx, token, observedBytes)
	})
}

func (r *InstrumentedSessionRepository) CompleteSession(ctx context.Context, token string, observedBytes int64, completedAt time.Time) (int64, error) {
	var result int64

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "complete_session", func(ctx context.Context) error {
		result, err = r.repo.CompleteSession(ctx, token, observedBytes, completedAt)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedSessionRepository) FailSession(ctx context.Context, token string, observedBytes int64, completedAt time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "fail_session", func(ctx context.Context) error {
		return r.repo.FailSession(ctx, token, observedBytes, completedAt)
	})
}

func (r *InstrumentedSessionRepository) CancelSession(ctx context.Context, token string, terminal session.Status, completedAt time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "cancel_session", func(ctx context.Context) error {
		return r.repo.CancelSession(ctx, token, terminal, completedAt)
	})
}

func (r *InstrumentedSessionRepository) LastCompletedAt(ctx context.Context, ownerID string) (*time.Time, error) {
	var result *time.Time

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "last_completed_at", func(ctx context.Context) error {
		result, err = r.repo.LastCompletedAt(ctx, ownerID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedSessionRepository) CompletedSince(ctx context.Context, since time.Time) (int64, error) {
	var result int64

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "completed_since", func(ctx context.Context) error {
		result, err = r.repo.CompletedSince(ctx, since)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}
