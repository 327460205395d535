package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lokalert/apkdist/internal/catalog"
)

// VersionRepository reads the APK version catalog from SQLite.
type VersionRepository struct {
	db *sql.DB
}

func NewVersionRepository(dbConn *sql.DB) *VersionRepository {
	return &VersionRepository{db: dbConn}
}

const versionColumns = `id, version, filename, file_size, download_url, release_notes, is_latest, download_count, upload_date`

func (r *VersionRepository) Get(ctx context.Context, id int64) (*catalog.Version, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM apk_versions WHERE id = ?`, id)

	return scanVersion(row)
}

func (r *VersionRepository) Latest(ctx context.Context) (*catalog.Version, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM apk_versions WHERE is_latest = 1 LIMIT 1`)

	return scanVersion(row)
}

func (r *VersionRepository) List(ctx context.Context) ([]*catalog.Version, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM apk_versions ORDER BY upload_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*catalog.Version

	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}

		versions = append(versions, v)
	}

	return versions, rows.Err()
}

func (r *VersionRepository) TotalDownloads(ctx context.Context) (int64, error) {
	var total int64

	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(download_count), 0) FROM apk_versions`).Scan(&total)

	return total, err
}

func (r *VersionRepository) CountVersions(ctx context.Context) (int64, error) {
	var total int64

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM apk_versions`).Scan(&total)

	return total, err
}

// UpdateFileSize records a resolved asset size for catalog entries published
// without one.
func (r *VersionRepository) UpdateFileSize(ctx context.Context, id, size int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE apk_versions SET file_size = ? WHERE id = ?`, size, id)

	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*catalog.Version, error) {
	var (
		v            catalog.Version
		downloadURL  sql.NullString
		releaseNotes sql.NullString
		isLatest     int64
		uploadDate   string
	)

	err := row.Scan(&v.ID, &v.Version, &v.Filename, &v.FileSize,
		&downloadURL, &releaseNotes, &isLatest, &v.DownloadCount, &uploadDate)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	v.DownloadURL = downloadURL.String
	v.ReleaseNotes = releaseNotes.String
	v.IsLatest = isLatest == 1
	v.UploadDate = parseTimestamp(uploadDate)

	return &v, nil
}

// parseTimestamp tolerates both our RFC3339 writes and SQLite's own
// CURRENT_TIMESTAMP format for rows seeded outside this service.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}

	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}

	return time.Time{}
}
