package sqlite

import (
	"database/sql"
	"time"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is how timestamps are persisted.
const timeLayout = time.RFC3339

// InitDB opens the SQLite database and creates the schema if it doesn't exist.
func InitDB(dbFile string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS download_sessions (
		token TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		version_id INTEGER NOT NULL,
		expected_size INTEGER NOT NULL DEFAULT 0,
		observed_bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'started',
		ip_address TEXT,
		user_agent TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON download_sessions (owner_id, status);

	CREATE TABLE IF NOT EXISTS apk_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL,
		filename TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		download_url TEXT,
		release_notes TEXT,
		is_latest INTEGER NOT NULL DEFAULT 0,
		download_count INTEGER NOT NULL DEFAULT 0,
		upload_date TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_versions_latest ON apk_versions (is_latest);

	CREATE TABLE IF NOT EXISTS user_download_profiles (
		user_id TEXT PRIMARY KEY,
		last_completed_at TEXT,
		total_completions INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT,
		action TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		detail TEXT,
		created_at TEXT NOT NULL
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
