package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lokalert/apkdist/internal/session"
)

// SessionRepository stores download sessions in SQLite and implements
// session.Store. Terminal transitions are guarded UPDATEs on the started
// status; RowsAffected discriminates the winner under concurrency.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(dbConn *sql.DB) *SessionRepository {
	return &SessionRepository{db: dbConn}
}

func (r *SessionRepository) CreateSession(ctx context.Context, s *session.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_sessions
			(token, owner_id, version_id, expected_size, observed_bytes, status, ip_address, user_agent, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Token, s.OwnerID, s.VersionID, s.ExpectedSize, s.ObservedBytes,
		string(s.Status), s.IPAddress, s.UserAgent, s.StartedAt.UTC().Format(timeLayout),
	)

	return err
}

func (r *SessionRepository) GetSession(ctx context.Context, token string) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, owner_id, version_id, expected_size, observed_bytes, status, ip_address, user_agent, started_at, completed_at
		FROM download_sessions
		WHERE token = ?`, token)

	var (
		s           session.Session
		status      string
		ipAddress   sql.NullString
		userAgent   sql.NullString
		startedAt   string
		completedAt sql.NullString
	)

	err := row.Scan(&s.Token, &s.OwnerID, &s.VersionID, &s.ExpectedSize, &s.ObservedBytes,
		&status, &ipAddress, &userAgent, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, session.ErrSessionNotFound
	}

	if err != nil {
		return nil, err
	}

	s.Status = session.Status(status)
	s.IPAddress = ipAddress.String
	s.UserAgent = userAgent.String

	if s.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	if completedAt.Valid {
		t, err := time.Parse(timeLayout, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}

		s.CompletedAt = &t
	}

	return &s, nil
}

func (r *SessionRepository) RecordProgress(ctx context.Context, token string, observedBytes int64) error {
	// No started-row match means the token is unknown or terminal; progress
	// is advisory either way, so that is not an error.
	_, err := r.db.ExecContext(ctx, `
		UPDATE download_sessions SET observed_bytes = ?
		WHERE token = ? AND status = 'started'`, observedBytes, token)

	return err
}

// CompleteSession commits the session transition, the version download
// counter and the owner profile stamp as one transaction.
func (r *SessionRepository) CompleteSession(ctx context.Context, token string, observedBytes int64, completedAt time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		ownerID   string
		versionID int64
	)

	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, version_id FROM download_sessions WHERE token = ?`, token).
		Scan(&ownerID, &versionID)
	if err == sql.ErrNoRows {
		return 0, session.ErrSessionNotFound
	}

	if err != nil {
		return 0, err
	}

	stamp := completedAt.UTC().Format(timeLayout)

	res, err := tx.ExecContext(ctx, `
		UPDATE download_sessions SET status = 'completed', observed_bytes = ?, completed_at = ?
		WHERE token = ? AND status = 'started'`, observedBytes, stamp, token)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if affected == 0 {
		return 0, session.ErrAlreadyResolved
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE apk_versions SET download_count = download_count + 1 WHERE id = ?`, versionID); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_download_profiles (user_id, last_completed_at, total_completions)
		VALUES (?, ?, 1)
		ON CONFLICT(user_id) DO UPDATE SET
			last_completed_at = excluded.last_completed_at,
			total_completions = user_download_profiles.total_completions + 1`,
		ownerID, stamp); err != nil {
		return 0, err
	}

	var total int64
	if err := tx.QueryRowContext(ctx,
		`SELECT total_completions FROM user_download_profiles WHERE user_id = ?`, ownerID).
		Scan(&total); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return total, nil
}

func (r *SessionRepository) FailSession(ctx context.Context, token string, observedBytes int64, completedAt time.Time) error {
	return r.finalize(ctx, token, session.StatusFailed, &observedBytes, completedAt)
}

func (r *SessionRepository) CancelSession(ctx context.Context, token string, terminal session.Status, completedAt time.Time) error {
	return r.finalize(ctx, token, terminal, nil, completedAt)
}

func (r *SessionRepository) finalize(ctx context.Context, token string, terminal session.Status, observedBytes *int64, completedAt time.Time) error {
	var (
		res sql.Result
		err error
	)

	stamp := completedAt.UTC().Format(timeLayout)

	if observedBytes != nil {
		res, err = r.db.ExecContext(ctx, `
			UPDATE download_sessions SET status = ?, observed_bytes = ?, completed_at = ?
			WHERE token = ? AND status = 'started'`, string(terminal), *observedBytes, stamp, token)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE download_sessions SET status = ?, completed_at = ?
			WHERE token = ? AND status = 'started'`, string(terminal), stamp, token)
	}

	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return session.ErrAlreadyResolved
	}

	return nil
}

func (r *SessionRepository) LastCompletedAt(ctx context.Context, ownerID string) (*time.Time, error) {
	var last sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT last_completed_at FROM user_download_profiles WHERE user_id = ?`, ownerID).
		Scan(&last)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if !last.Valid {
		return nil, nil
	}

	t, err := time.Parse(timeLayout, last.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_completed_at: %w", err)
	}

	return &t, nil
}

// CompletedSince counts completed sessions newer than the given time. Feeds
// the stats endpoint.
func (r *SessionRepository) CompletedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM download_sessions
		WHERE status = 'completed' AND completed_at >= ?`,
		since.UTC().Format(timeLayout)).Scan(&count)

	return count, err
}
