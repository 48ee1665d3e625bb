package jobs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/dispatch"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/providers/compute"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/storage"
)

// Options tunes intake limits and retry policy.
type Options struct {
	MaxRetries     int
	RetryRejected  bool
	MaxUploadBytes int64
	AssetTTL       time.Duration
}

// Service owns the job lifecycle outside the dispatch loop: intake with
// dedup, status reads, retries, and folding backend outcomes into the store.
type Service struct {
	store  domain.JobStore
	blobs  storage.Store
	queue  dispatch.Queue
	logger infra.Logger
	opts   Options
}

// NewService assembles the orchestration service.
func NewService(store domain.JobStore, blobs storage.Store, queue dispatch.Queue, logger infra.Logger, opts Options) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.AssetTTL <= 0 {
		opts.AssetTTL = 15 * time.Minute
	}
	return &Service{
		store:  store,
		blobs:  blobs,
		queue:  queue,
		logger: logger,
		opts:   opts,
	}
}

// CreateRequest is one intake submission after multipart decoding.
type CreateRequest struct {
	Params  domain.JobParams
	Uploads []domain.Upload
}

// isLive reports whether an existing job with the same configuration makes a
// new submission a duplicate. Failed jobs do not; resubmitting after a
// failure is a fresh attempt.
func isLive(s domain.JobStatus) bool {
	return s == domain.StatusQueued || s == domain.StatusDispatched || s == domain.StatusCompleted
}

// Create validates and persists a submission, then enqueues it for dispatch.
// When an identical live submission already exists, that job is returned
// instead and the second return value is true.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Job, bool, error) {
	req.Params.Normalize()
	if err := req.Params.Validate(); err != nil {
		return nil, false, fmt.Errorf("jobs: %v: %w", err, domain.ErrInvalid)
	}

	uploads := make(map[domain.AssetRole]domain.Upload, len(req.Uploads))
	for _, up := range req.Uploads {
		switch up.Role {
		case domain.RoleReferenceVideo, domain.RoleSourceImage, domain.RoleDrivingAudio:
		default:
			return nil, false, fmt.Errorf("jobs: unknown upload role %q: %w", up.Role, domain.ErrInvalid)
		}
		if _, dup := uploads[up.Role]; dup {
			return nil, false, fmt.Errorf("jobs: duplicate %s upload: %w", up.Role, domain.ErrInvalid)
		}
		uploads[up.Role] = up
	}
	for _, role := range []domain.AssetRole{domain.RoleReferenceVideo, domain.RoleSourceImage} {
		if _, ok := uploads[role]; !ok {
			return nil, false, fmt.Errorf("jobs: %s file is required: %w", role, domain.ErrInvalid)
		}
	}

	digests := make(map[domain.AssetRole]string, len(uploads))
	for role, up := range uploads {
		if len(up.Data) == 0 {
			return nil, false, fmt.Errorf("jobs: %s file is empty: %w", role, domain.ErrInvalid)
		}
		if s.opts.MaxUploadBytes > 0 && int64(len(up.Data)) > s.opts.MaxUploadBytes {
			return nil, false, fmt.Errorf("jobs: %s exceeds the upload limit: %w", role, domain.ErrInvalid)
		}
		if err := domain.ValidateExtension(up.Filename, role.Kind()); err != nil {
			return nil, false, fmt.Errorf("jobs: %v: %w", err, domain.ErrInvalid)
		}
		digests[role] = domain.ContentDigest(up.Data)
	}

	hash := domain.ConfigHash(req.Params, digests)
	existing, err := s.store.GetByConfigHash(ctx, hash)
	switch {
	case err == nil && isLive(existing.Status):
		s.logger.Info().
			Str("job_id", existing.ID).
			Str("status", string(existing.Status)).
			Msg("jobs: duplicate submission, returning existing job")
		return existing, true, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("jobs: dedup lookup: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:         uuid.NewString(),
		Params:     req.Params,
		ConfigHash: hash,
		AssetRefs:  make(map[domain.AssetRole]string, len(uploads)),
		Status:     domain.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	job.MarkStage(domain.StageQueued, now)
	for role, up := range uploads {
		ref, err := s.blobs.SaveUpload(ctx, job.ID, up.Filename, up.Data, up.ContentType)
		if err != nil {
			return nil, false, fmt.Errorf("jobs: persist %s: %w", role, err)
		}
		job.AssetRefs[role] = ref
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, false, fmt.Errorf("jobs: create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The job is persisted as queued; the boot requeue recovers it.
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: enqueue failed")
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("mode", string(job.Params.Mode)).
		Str("quality", string(job.Params.Quality)).
		Bool("enable_4k", job.Params.Enable4K).
		Msg("jobs: job accepted")
	return job, false, nil
}

// Get loads one job by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetByID(ctx, id)
}

// Retry moves a failed job back to queued and enqueues it again. Attempts
// are bounded by MaxRetries; rejected submissions are retryable only when
// the policy flag allows it.
func (s *Service) Retry(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusFailed {
		return nil, fmt.Errorf("jobs: only failed jobs can be retried: %w", domain.ErrConflict)
	}
	if job.AttemptCount >= s.opts.MaxRetries {
		return nil, domain.ErrMaxRetries
	}
	if job.FailureKind == domain.FailureRejected && !s.opts.RetryRejected {
		return nil, fmt.Errorf("jobs: the backend rejected this job, retry is disabled: %w", domain.ErrConflict)
	}

	job.MarkStage(domain.StageQueued, time.Now().UTC())
	updated, err := s.store.Transition(ctx, id, domain.StatusFailed, domain.StatusQueued, domain.TransitionFields{
		Stage:              domain.StageQueued,
		StageTimings:       job.StageTimings,
		IncrementAttempt:   true,
		ClearDispatchState: true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, updated.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", updated.ID).Msg("jobs: enqueue after retry failed")
	}
	s.logger.Info().
		Str("job_id", updated.ID).
		Int("attempt", updated.AttemptCount).
		Msg("jobs: retry accepted")
	return updated, nil
}

// Outcome is a terminal report from the backend, delivered by callback or
// collected by the reconciler.
type Outcome struct {
	JobID        string
	Completed    bool
	OutputRef    string
	OutputURL    string
	OutputBase64 string
	Error        string
}

// ApplyResult reports what ApplyOutcome did with a report.
type ApplyResult string

const (
	ApplyCompleted ApplyResult = "completed"
	ApplyFailed    ApplyResult = "failed"
	ApplyIgnored   ApplyResult = "ignored"
)

// ApplyOutcome folds one backend report into the job record. Reports for
// unknown jobs or jobs not currently dispatched are ignored, which makes
// at-least-once callback delivery idempotent here.
func (s *Service) ApplyOutcome(ctx context.Context, outcome Outcome) (ApplyResult, error) {
	job, err := s.store.GetByID(ctx, outcome.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ApplyIgnored, nil
		}
		return ApplyIgnored, fmt.Errorf("jobs: load job for outcome: %w", err)
	}
	if job.Status != domain.StatusDispatched {
		return ApplyIgnored, nil
	}

	if !outcome.Completed {
		return s.failRemote(ctx, job, outcome.Error)
	}

	ref, err := s.resolveOutput(ctx, job, outcome)
	if err != nil {
		return ApplyIgnored, err
	}
	if ref == "" {
		return s.failRemote(ctx, job, "completed report carried no output")
	}

	job.MarkStage(domain.StageDone, time.Now().UTC())
	_, err = s.store.Transition(ctx, job.ID, domain.StatusDispatched, domain.StatusCompleted, domain.TransitionFields{
		Stage:        domain.StageDone,
		StageTimings: job.StageTimings,
		OutputRef:    ref,
	})
	if err != nil {
		// Losing the race means another delivery of the same report won.
		if errors.Is(err, domain.ErrConflict) {
			return ApplyIgnored, nil
		}
		return ApplyIgnored, fmt.Errorf("jobs: record completion: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("output_ref", ref).Msg("jobs: job completed")
	return ApplyCompleted, nil
}

func (s *Service) failRemote(ctx context.Context, job *domain.Job, message string) (ApplyResult, error) {
	if message == "" {
		message = "processing failed on backend"
	}
	job.MarkStage(domain.StageFailed, time.Now().UTC())
	_, err := s.store.Transition(ctx, job.ID, domain.StatusDispatched, domain.StatusFailed, domain.TransitionFields{
		Stage:        domain.StageFailed,
		StageTimings: job.StageTimings,
		ErrorMessage: message,
		FailureKind:  domain.FailureRemote,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return ApplyIgnored, nil
		}
		return ApplyIgnored, fmt.Errorf("jobs: record remote failure: %w", err)
	}
	s.logger.Warn().Str("job_id", job.ID).Str("error", message).Msg("jobs: job failed on backend")
	return ApplyFailed, nil
}

// resolveOutput turns a completed report into a storable output ref. A ref
// or URL is recorded as-is; inline base64 payloads are persisted through the
// blob store first.
func (s *Service) resolveOutput(ctx context.Context, job *domain.Job, outcome Outcome) (string, error) {
	switch {
	case outcome.OutputRef != "":
		return outcome.OutputRef, nil
	case outcome.OutputURL != "":
		return outcome.OutputURL, nil
	case outcome.OutputBase64 != "":
		data, err := base64.StdEncoding.DecodeString(outcome.OutputBase64)
		if err != nil {
			return "", fmt.Errorf("jobs: output payload is not base64: %w", domain.ErrInvalid)
		}
		ref, err := s.blobs.SaveOutput(ctx, job.ID, "result.mp4", data, "video/mp4")
		if err != nil {
			return "", fmt.Errorf("jobs: persist output: %w", err)
		}
		return ref, nil
	}
	return "", nil
}

// ApplyRemoteStatus adapts a polled backend status to the callback outcome
// path. Pending states are no-ops.
func (s *Service) ApplyRemoteStatus(ctx context.Context, jobID string, status compute.RemoteStatus) error {
	outcome := Outcome{JobID: jobID, Error: status.Error}
	switch status.State {
	case compute.StateCompleted:
		outcome.Completed = true
		outcome.OutputRef = status.OutputRef
		outcome.OutputURL = status.OutputURL
		outcome.OutputBase64 = status.OutputBase64
	case compute.StateFailed:
	default:
		return nil
	}
	result, err := s.ApplyOutcome(ctx, outcome)
	if err != nil {
		return err
	}
	s.logger.Debug().
		Str("job_id", jobID).
		Str("remote_status", status.Detail).
		Str("result", string(result)).
		Msg("jobs: polled status applied")
	return nil
}

// IsExternalOutput reports whether an output ref points outside the blob
// store.
func IsExternalOutput(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// OutputURL returns a client-fetchable location for a completed job's
// output, or "" when the job has none yet.
func (s *Service) OutputURL(ctx context.Context, job *domain.Job) (string, error) {
	if job.Status != domain.StatusCompleted || job.OutputRef == "" {
		return "", nil
	}
	if IsExternalOutput(job.OutputRef) {
		return job.OutputRef, nil
	}
	url, err := s.blobs.AssetURL(ctx, job.OutputRef, s.opts.AssetTTL)
	if err != nil {
		return "", fmt.Errorf("jobs: output url: %w", err)
	}
	return url, nil
}

// OpenOutput streams a stored output ref for local delivery.
func (s *Service) OpenOutput(ctx context.Context, job *domain.Job) (io.ReadCloser, string, error) {
	return s.blobs.Open(ctx, job.OutputRef)
}
