package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/lokalert/apkdist/internal/audit"
	"github.com/lokalert/apkdist/internal/identity"
	"github.com/lokalert/apkdist/internal/logctx"
	"github.com/lokalert/apkdist/internal/session"
	"github.com/lokalert/apkdist/internal/telemetry"
)

// Engine is the slice of the session lifecycle engine this handler consumes.
type Engine interface {
	Init(ctx context.Context, caller identity.Identity, versionID int64, meta session.ClientMeta) (*session.InitResult, error)
	Progress(ctx context.Context, token string, observedBytes int64)
	Complete(ctx context.Context, token string, observedBytes int64, clientVerified bool) (int64, error)
	Cancel(ctx context.Context, token, reason string) bool
	CooldownStatus(ctx context.Context, ownerID string) (bool, time.Duration)
}

// AuditLog lists recent audit records for the admin view.
type AuditLog interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

// DownloadHandler exposes the download session lifecycle over HTTP.
type DownloadHandler struct {
	engine    Engine
	auditLog  AuditLog
	telemetry *telemetry.Telemetry
}

// NewDownloadHandler creates a new download session handler.
func NewDownloadHandler(engine Engine, auditLog AuditLog, tel *telemetry.Telemetry) *DownloadHandler {
	return &DownloadHandler{
		engine:    engine,
		auditLog:  auditLog,
		telemetry: tel,
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.HandleInit)
	r.Get("/", h.HandleAuditLog)
	r.Get("/cooldown", h.HandleCooldown)
	r.Post("/{token}/progress", h.HandleProgress)
	r.Post("/{token}/complete", h.HandleComplete)
	r.Post("/{token}/cancel", h.HandleCancel)

	return r
}

type initRequest struct {
	VersionID int64 `json:"version_id"`
}

// HandleInit opens a download session and hands the caller a one-time token.
func (h *DownloadHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest

	// An empty body means "latest".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})

		return
	}

	caller := identity.FromRequest(r)
	meta := session.ClientMeta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
	ctx := logctx.With(r.Context(), "client_ip", meta.IPAddress)

	result, err := h.engine.Init(ctx, caller, req.VersionID, meta)
	if err != nil {
		h.recordOp("init", err)
		writeError(w, r, err)

		return
	}

	h.telemetry.RecordSessionOp("init", "accepted")
	h.telemetry.IncrementActiveSessions()

	jsonResponse(w, http.StatusCreated, map[string]any{
		"token":                   result.Token,
		"expected_size":           result.ExpectedSize,
		"expected_size_formatted": humanize.Bytes(uint64(result.ExpectedSize)),
		"filename":                result.Filename,
		"download_url":            result.DownloadURL,
	})
}

type progressRequest struct {
	ObservedBytes int64 `json:"observed_bytes"`
}

// HandleProgress accepts an advisory progress report. It always acks.
func (h *DownloadHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest

	_ = json.NewDecoder(r.Body).Decode(&req)

	h.engine.Progress(r.Context(), chi.URLParam(r, "token"), req.ObservedBytes)
	h.telemetry.RecordSessionOp("progress", "accepted")

	jsonResponse(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

type completeRequest struct {
	ObservedBytes int64 `json:"observed_bytes"`
	Verified      bool  `json:"verified"`
}

// HandleComplete verifies and credits a finished retrieval.
func (h *DownloadHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})

		return
	}

	total, err := h.engine.Complete(r.Context(), chi.URLParam(r, "token"), req.ObservedBytes, req.Verified)
	if err != nil {
		var sizeErr *session.SizeMismatchError
		if errors.As(err, &sizeErr) {
			h.telemetry.RecordSizeMismatch()
			h.telemetry.DecrementActiveSessions()
		}

		h.recordOp("complete", err)
		writeError(w, r, err)

		return
	}

	h.telemetry.RecordSessionOp("complete", "accepted")
	h.telemetry.RecordCompletion()
	h.telemetry.DecrementActiveSessions()

	jsonResponse(w, http.StatusOK, map[string]any{"total_completions": total})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// HandleCancel finalises an abandoned retrieval. Always acks, so clients on
// failing networks can fire and forget.
func (h *DownloadHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest

	_ = json.NewDecoder(r.Body).Decode(&req)

	if h.engine.Cancel(r.Context(), chi.URLParam(r, "token"), req.Reason) {
		h.telemetry.DecrementActiveSessions()
	}

	h.telemetry.RecordSessionOp("cancel", "accepted")

	jsonResponse(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

// HandleCooldown reports the caller's download eligibility.
func (h *DownloadHandler) HandleCooldown(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		writeError(w, r, session.ErrUnauthenticated)

		return
	}

	eligible, remaining := h.engine.CooldownStatus(r.Context(), caller.UserID)

	jsonResponse(w, http.StatusOK, map[string]any{
		"eligible":          eligible,
		"remaining_seconds": int64(remaining.Seconds()),
	})
}

// HandleAuditLog lists recent download activity. Admin only.
func (h *DownloadHandler) HandleAuditLog(w http.ResponseWriter, r *http.Request) {
	caller := identity.FromRequest(r)
	if caller.Anonymous() {
		writeError(w, r, session.ErrUnauthenticated)

		return
	}

	if !caller.Admin {
		jsonResponse(w, http.StatusForbidden, map[string]string{"error": "admin access required"})

		return
	}

	records, err := h.auditLog.Recent(r.Context(), 100)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list audit records", "err", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to list download activity"})

		return
	}

	payload := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		payload = append(payload, map[string]any{
			"actor":      rec.Actor,
			"action":     rec.Action,
			"subject_id": rec.SubjectID,
			"detail":     rec.Detail,
			"timestamp":  rec.Timestamp.Format(time.RFC3339),
		})
	}

	jsonResponse(w, http.StatusOK, payload)
}

func (h *DownloadHandler) recordOp(op string, err error) {
	var cooldownErr *session.CooldownActiveError
	if errors.As(err, &cooldownErr) {
		h.telemetry.RecordCooldownRejection()
	}

	var storageErr *session.StorageError
	if errors.As(err, &storageErr) {
		h.telemetry.RecordSessionOp(op, "error")

		return
	}

	h.telemetry.RecordSessionOp(op, "rejected")
}
