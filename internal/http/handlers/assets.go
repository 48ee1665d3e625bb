package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DownloadAsset streams a stored file addressed by a signed token. The token
// carries the storage path and an expiry; nothing else identifies the file,
// so possession of a valid token is the whole authorization.
func (a *App) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	claims, err := a.Signer.Verify(chi.URLParam(r, "token"))
	if err != nil {
		a.fail(w, err)
		return
	}
	rc, contentType, err := a.Blobs.Open(r.Context(), claims.Path)
	if err != nil {
		a.fail(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
