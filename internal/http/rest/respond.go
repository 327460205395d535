package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lokalert/apkdist/internal/catalog"
	"github.com/lokalert/apkdist/internal/logctx"
	"github.com/lokalert/apkdist/internal/session"
)

func jsonResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the session error taxonomy onto HTTP statuses. Nothing
// here is fatal to the process; every error is scoped to one request.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cooldownErr *session.CooldownActiveError
		tokenErr    *session.InvalidTokenError
		sizeErr     *session.SizeMismatchError
		storageErr  *session.StorageError
	)

	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	case errors.Is(err, session.ErrUnverified):
		jsonResponse(w, http.StatusForbidden, map[string]string{"error": "please verify your email address first"})
	case errors.As(err, &cooldownErr):
		seconds := int64(cooldownErr.Remaining.Seconds())
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		jsonResponse(w, http.StatusTooManyRequests, map[string]any{
			"error":             "download cooldown active",
			"remaining_seconds": seconds,
		})
	case errors.Is(err, catalog.ErrNotFound):
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "version not found"})
	case errors.As(err, &tokenErr):
		jsonResponse(w, http.StatusConflict, map[string]string{"error": "invalid or already processed token"})
	case errors.As(err, &sizeErr):
		jsonResponse(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "download size mismatch",
			"observed": sizeErr.Observed,
			"expected": sizeErr.Expected,
		})
	case errors.As(err, &storageErr):
		logctx.LoggerFromContext(r.Context()).Error("storage failure", "op", storageErr.Op, "err", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "temporary storage failure, please retry"})
	default:
		logctx.LoggerFromContext(r.Context()).Error("unhandled error", "err", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// clientIP resolves the originating address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}

		return fwd
	}

	return r.RemoteAddr
}
