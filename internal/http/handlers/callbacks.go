package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/jobs"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/signing"
)

// computeCallback is the body the compute worker posts when a job finishes.
// Exactly one of the output fields is expected on a completed report.
type computeCallback struct {
	JobID        string          `json:"job_id"`
	Status       string          `json:"status"`
	OutputRef    string          `json:"output_ref"`
	OutputURL    string          `json:"output_url"`
	OutputBase64 string          `json:"output_base64"`
	Error        string          `json:"error"`
	Metadata     json.RawMessage `json:"metadata"`
}

// ComputeCallback ingests a completion report from the compute backend. The
// X-Callback-Signature header is verified against the raw body before any
// parsing; an unverified request touches no state. Reports that do not match
// a dispatched job are acknowledged as ignored so the backend stops
// redelivering them.
func (a *App) ComputeCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxRequestBytes()))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	sig := r.Header.Get("X-Callback-Signature")
	if sig == "" || !signing.VerifyWebhook(a.CallbackSecret, body, sig) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback signature")
		return
	}

	var cb computeCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if cb.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	var completed bool
	switch cb.Status {
	case "completed":
		completed = true
	case "failed":
		completed = false
	default:
		// Progress pings and unknown words are acknowledged without effect.
		a.json(w, http.StatusOK, map[string]any{"status": jobs.ApplyIgnored})
		return
	}

	result, err := a.Jobs.ApplyOutcome(r.Context(), jobs.Outcome{
		JobID:        cb.JobID,
		Completed:    completed,
		OutputRef:    cb.OutputRef,
		OutputURL:    cb.OutputURL,
		OutputBase64: cb.OutputBase64,
		Error:        cb.Error,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"status": result})
}
