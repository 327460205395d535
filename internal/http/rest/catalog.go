package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/lokalert/apkdist/internal/catalog"
	"github.com/lokalert/apkdist/internal/logctx"
)

// CatalogReader is the read-only catalog view this handler consumes.
type CatalogReader interface {
	Get(ctx context.Context, id int64) (*catalog.Version, error)
	Latest(ctx context.Context) (*catalog.Version, error)
	List(ctx context.Context) ([]*catalog.Version, error)
	TotalDownloads(ctx context.Context) (int64, error)
	CountVersions(ctx context.Context) (int64, error)
}

// CompletionCounter counts credited downloads for the stats view.
type CompletionCounter interface {
	CompletedSince(ctx context.Context, since time.Time) (int64, error)
}

// CatalogHandler exposes the version catalog and download statistics.
type CatalogHandler struct {
	catalog  CatalogReader
	sessions CompletionCounter
}

func NewCatalogHandler(cat CatalogReader, sessions CompletionCounter) *CatalogHandler {
	return &CatalogHandler{catalog: cat, sessions: sessions}
}

func (h *CatalogHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/versions", h.HandleList)
	r.Get("/versions/latest", h.HandleLatest)
	r.Get("/versions/{id}", h.HandleGet)
	r.Get("/stats", h.HandleStats)

	return r
}

func (h *CatalogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	versions, err := h.catalog.List(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list versions", "err", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to list versions"})

		return
	}

	payload := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		payload = append(payload, versionPayload(v))
	}

	jsonResponse(w, http.StatusOK, payload)
}

func (h *CatalogHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	v, err := h.catalog.Latest(r.Context())
	if err != nil {
		writeError(w, r, err)

		return
	}

	jsonResponse(w, http.StatusOK, versionPayload(v))
}

func (h *CatalogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid version id"})

		return
	}

	v, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)

		return
	}

	jsonResponse(w, http.StatusOK, versionPayload(v))
}

// HandleStats aggregates the public download statistics.
func (h *CatalogHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalDownloads, err := h.catalog.TotalDownloads(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to aggregate downloads", "err", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to aggregate stats"})

		return
	}

	totalVersions, err := h.catalog.CountVersions(ctx)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to count versions", "err", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to aggregate stats"})

		return
	}

	recent, err := h.sessions.CompletedSince(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to count recent completions", "err", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to aggregate stats"})

		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"total_downloads":    totalDownloads,
		"total_versions":     totalVersions,
		"recent_completions": recent,
	})
}

func versionPayload(v *catalog.Version) map[string]any {
	return map[string]any{
		"id":                  v.ID,
		"version":             v.Version,
		"filename":            v.Filename,
		"file_size":           v.FileSize,
		"file_size_formatted": humanize.Bytes(uint64(v.FileSize)),
		"download_url":        v.DownloadURL,
		"release_notes":       v.ReleaseNotes,
		"is_latest":           v.IsLatest,
		"download_count":      v.DownloadCount,
		"upload_date":         v.UploadDate.Format(time.RFC3339),
	}
}
