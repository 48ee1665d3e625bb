package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/jobs"
	"github.com/lokeshdeshmukh/face-swap-ai/pkg/zip"
)

// multipartMemory is how much of a parsed upload form stays in memory before
// spilling to disk.
const multipartMemory = 32 << 20

var uploadRoles = []domain.AssetRole{
	domain.RoleReferenceVideo,
	domain.RoleSourceImage,
	domain.RoleDrivingAudio,
}

// CreateJob accepts a multipart job submission: mode, quality, aspect_ratio
// and enable_4k fields plus one file part per asset role. Identical
// resubmissions dedup onto the live job with the same config hash, so the
// response may carry a job that is already past queued.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxRequestBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	params := domain.JobParams{
		Mode:        domain.JobMode(r.FormValue("mode")),
		Quality:     domain.Quality(r.FormValue("quality")),
		AspectRatio: r.FormValue("aspect_ratio"),
	}
	if v := r.FormValue("enable_4k"); v != "" {
		enable, err := strconv.ParseBool(v)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "enable_4k must be a boolean")
			return
		}
		params.Enable4K = enable
	}

	uploads := make([]domain.Upload, 0, len(uploadRoles))
	for _, role := range uploadRoles {
		file, header, err := r.FormFile(string(role))
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("malformed file part %q", role))
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("read file part %q", role))
			return
		}
		uploads = append(uploads, domain.Upload{
			Role:        role,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	job, _, err := a.Jobs.Create(r.Context(), jobs.CreateRequest{Params: params, Uploads: uploads})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"id":     job.ID,
		"status": job.Status,
		"stage":  job.Stage,
	})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	outputURL, err := a.Jobs.OutputURL(r.Context(), job)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, jobDocument(job, outputURL))
}

func jobDocument(job *domain.Job, outputURL string) map[string]any {
	doc := map[string]any{
		"id":            job.ID,
		"mode":          job.Params.Mode,
		"quality":       job.Params.Quality,
		"aspect_ratio":  job.Params.AspectRatio,
		"enable_4k":     job.Params.Enable4K,
		"config_hash":   job.ConfigHash,
		"status":        job.Status,
		"stage":         job.Stage,
		"stage_timings": job.StageTimings,
		"attempt_count": job.AttemptCount,
		"created_at":    job.CreatedAt,
		"updated_at":    job.UpdatedAt,
	}
	if job.FailureKind != "" {
		doc["failure_kind"] = job.FailureKind
	}
	if job.ErrorMessage != "" {
		doc["error"] = job.ErrorMessage
	}
	if job.ExternalHandle != "" {
		doc["external_handle"] = job.ExternalHandle
	}
	if job.RequestID != "" {
		doc["request_id"] = job.RequestID
	}
	if outputURL != "" {
		doc["output_url"] = outputURL
	}
	return doc
}

// RetryJob requeues a failed job, subject to the retry policy.
func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"id":     job.ID,
		"status": job.Status,
		"stage":  job.Stage,
	})
}

// JobOutput serves the finished artifact: a redirect when the backend stored
// the result at an external URL, a byte stream when it lives in our storage.
func (a *App) JobOutput(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if job.Status != domain.StatusCompleted || job.OutputRef == "" {
		a.error(w, http.StatusNotFound, "not_found", "output not ready")
		return
	}
	if jobs.IsExternalOutput(job.OutputRef) {
		http.Redirect(w, r, job.OutputRef, http.StatusFound)
		return
	}
	rc, contentType, err := a.Jobs.OpenOutput(r.Context(), job)
	if err != nil {
		a.fail(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// JobBundle streams a zip archive of the job's stored media: every input
// asset plus the finished output when it lives in our storage. Externally
// hosted outputs are not fetched; GET /output redirects to those.
func (a *App) JobBundle(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}

	entries := make([]zip.Entry, 0, len(uploadRoles)+1)
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for _, role := range uploadRoles {
		ref, ok := job.AssetRefs[role]
		if !ok {
			continue
		}
		rc, _, err := a.Blobs.Open(r.Context(), ref)
		if err != nil {
			a.fail(w, err)
			return
		}
		closers = append(closers, rc)
		entries = append(entries, zip.Entry{Name: string(role) + path.Ext(ref), Body: rc})
	}
	if job.Status == domain.StatusCompleted && job.OutputRef != "" && !jobs.IsExternalOutput(job.OutputRef) {
		rc, _, err := a.Jobs.OpenOutput(r.Context(), job)
		if err != nil {
			a.fail(w, err)
			return
		}
		closers = append(closers, rc)
		entries = append(entries, zip.Entry{Name: "output" + path.Ext(job.OutputRef), Body: rc})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "job-"+job.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	if err := zip.Write(w, entries); err != nil {
		// The status line is already on the wire, so the stream just ends
		// short and the client sees a truncated archive.
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("http: bundle stream failed")
	}
}
