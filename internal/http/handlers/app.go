package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/jobs"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/signing"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/storage"
)

// App bundles the dependencies the HTTP handlers work against.
type App struct {
	Jobs   *jobs.Service
	Blobs  storage.Store
	Signer *signing.TokenSigner
	Logger infra.Logger

	// CallbackSecret authenticates completion callbacks from the compute
	// backend. MaxUploadBytes caps each uploaded file; the intake route caps
	// the whole request body at three files plus form overhead.
	CallbackSecret string
	MaxUploadBytes int64
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

// fail translates a domain error into the API error body. Validation and
// conflict responses carry the underlying message so callers learn what to
// fix; the rest get a fixed message.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrMaxRetries):
		a.error(w, http.StatusConflict, "max_retries_exceeded", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid or missing credentials")
	case errors.Is(err, domain.ErrExpired):
		a.error(w, http.StatusGone, "expired", "link expired")
	default:
		a.Logger.Error().Err(err).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) maxRequestBytes() int64 {
	return 3*a.MaxUploadBytes + 1<<20
}
