package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/lokalert/apkdist/internal/session"
	"github.com/lokalert/apkdist/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		INSERT INTO apk_versions (version, filename, file_size, is_latest, upload_date)
		VALUES ('1.0.0', 'app-1.0.0.apk', 1000000, 1, '2026-03-01T00:00:00Z')`)
	require.NoError(t, err)

	return db
}

func startSession(t *testing.T, repo *sqlite.SessionRepository, token string) {
	t.Helper()

	require.NoError(t, repo.CreateSession(context.Background(), &session.Session{
		Token:        token,
		OwnerID:      "user-42",
		VersionID:    1,
		ExpectedSize: 1_000_000,
		Status:       session.StatusStarted,
		IPAddress:    "203.0.113.7",
		UserAgent:    "okhttp/4.12.0",
		StartedAt:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}))
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	repo := sqlite.NewSessionRepository(setupDB(t))
	startSession(t, repo, "tok")

	s, err := repo.GetSession(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-42", s.OwnerID)
	assert.Equal(t, int64(1_000_000), s.ExpectedSize)
	assert.Equal(t, session.StatusStarted, s.Status)
	assert.Equal(t, "203.0.113.7", s.IPAddress)
	assert.Nil(t, s.CompletedAt)

	_, err = repo.GetSession(context.Background(), "nope")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCompleteSessionCommitsAtomically(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	repo := sqlite.NewSessionRepository(db)
	startSession(t, repo, "tok")

	completedAt := time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC)

	total, err := repo.CompleteSession(context.Background(), "tok", 990_000, completedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	s, err := repo.GetSession(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, s.Status)
	assert.Equal(t, int64(990_000), s.ObservedBytes)
	require.NotNil(t, s.CompletedAt)
	assert.True(t, s.CompletedAt.Equal(completedAt))

	var count int64
	require.NoError(t, db.QueryRow(`SELECT download_count FROM apk_versions WHERE id = 1`).Scan(&count))
	assert.Equal(t, int64(1), count)

	last, err := repo.LastCompletedAt(context.Background(), "user-42")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(completedAt))
}

func TestCompleteSessionOnlyOnce(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	repo := sqlite.NewSessionRepository(db)
	startSession(t, repo, "tok")

	_, err := repo.CompleteSession(context.Background(), "tok", 1_000_000, time.Now())
	require.NoError(t, err)

	_, err = repo.CompleteSession(context.Background(), "tok", 1_000_000, time.Now())
	require.ErrorIs(t, err, session.ErrAlreadyResolved)

	_, err = repo.CompleteSession(context.Background(), "nope", 1_000_000, time.Now())
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	var count int64
	require.NoError(t, db.QueryRow(`SELECT download_count FROM apk_versions WHERE id = 1`).Scan(&count))
	assert.Equal(t, int64(1), count)
}

func TestFinalizeWithoutCounters(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	repo := sqlite.NewSessionRepository(db)
	startSession(t, repo, "cancelled")
	startSession(t, repo, "failed")

	require.NoError(t, repo.CancelSession(context.Background(), "cancelled", session.StatusCancelled, time.Now()))
	require.NoError(t, repo.FailSession(context.Background(), "failed", 20_000, time.Now()))

	require.ErrorIs(t,
		repo.CancelSession(context.Background(), "cancelled", session.StatusCancelled, time.Now()),
		session.ErrAlreadyResolved)

	s, err := repo.GetSession(context.Background(), "failed")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, s.Status)
	assert.Equal(t, int64(20_000), s.ObservedBytes)

	var count int64
	require.NoError(t, db.QueryRow(`SELECT download_count FROM apk_versions WHERE id = 1`).Scan(&count))
	assert.Zero(t, count)

	last, err := repo.LastCompletedAt(context.Background(), "user-42")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRecordProgress(t *testing.T) {
	t.Parallel()

	repo := sqlite.NewSessionRepository(setupDB(t))
	startSession(t, repo, "tok")

	require.NoError(t, repo.RecordProgress(context.Background(), "tok", 400_000))

	s, err := repo.GetSession(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(400_000), s.ObservedBytes)

	_, err = repo.CompleteSession(context.Background(), "tok", 1_000_000, time.Now())
	require.NoError(t, err)

	// Advisory on terminal sessions: accepted but without effect.
	require.NoError(t, repo.RecordProgress(context.Background(), "tok", 1))

	s, err = repo.GetSession(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), s.ObservedBytes)
}

func TestCompletedSince(t *testing.T) {
	t.Parallel()

	repo := sqlite.NewSessionRepository(setupDB(t))
	startSession(t, repo, "old")
	startSession(t, repo, "recent")

	_, err := repo.CompleteSession(context.Background(), "old", 1_000_000, time.Now().AddDate(0, 0, -10))
	require.NoError(t, err)

	_, err = repo.CompleteSession(context.Background(), "recent", 1_000_000, time.Now())
	require.NoError(t, err)

	count, err := repo.CompletedSince(context.Background(), time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
