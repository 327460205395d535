// Package catalog holds the APK version catalog entities and the repository
// contract the rest of the service consumes.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a version id does not exist, or no entry is
// flagged latest.
var ErrNotFound = errors.New("version not found")

// Version is one published APK release.
type Version struct {
	ID            int64
	Version       string
	Filename      string
	FileSize      int64
	DownloadURL   string
	ReleaseNotes  string
	IsLatest      bool
	DownloadCount int64
	UploadDate    time.Time
}

// Repository reads the version catalog. The download counter is incremented
// by the session store inside the completion transaction, never through this
// interface; the catalog stays read-only to the engine apart from the size
// backfill.
type Repository interface {
	Get(ctx context.Context, id int64) (*Version, error)
	Latest(ctx context.Context) (*Version, error)
	List(ctx context.Context) ([]*Version, error)
	TotalDownloads(ctx context.Context) (int64, error)
	UpdateFileSize(ctx context.Context, id, size int64) error
}
