package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/providers/compute"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/storage"
)

const watchdogTick = 30 * time.Second

// OutcomeApplier folds a terminal backend report into the job record. The
// jobs service implements it with the same path the callback handler uses.
type OutcomeApplier interface {
	ApplyRemoteStatus(ctx context.Context, jobID string, status compute.RemoteStatus) error
}

// Options tunes the worker pool and its background loops.
type Options struct {
	Workers           int
	AssetTTL          time.Duration
	SubmitTimeout     time.Duration
	DispatchTimeout   time.Duration // 0 disables the watchdog
	ReconcileInterval time.Duration // 0 disables the reconciler
	PublicBaseURL     string
	CallbackSecret    string
}

// Dispatcher drains the queue and drives queued jobs onto the compute
// backend. Correctness under concurrent workers rests entirely on the
// store's conditional Transition.
type Dispatcher struct {
	store    domain.JobStore
	blobs    storage.Store
	provider compute.Provider
	queue    Queue
	applier  OutcomeApplier
	logger   infra.Logger
	opts     Options
	wg       sync.WaitGroup
}

// New assembles a dispatcher. The applier may be nil, which disables status
// polling regardless of the reconcile interval.
func New(store domain.JobStore, blobs storage.Store, provider compute.Provider, queue Queue, applier OutcomeApplier, logger infra.Logger, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 45 * time.Second
	}
	return &Dispatcher{
		store:    store,
		blobs:    blobs,
		provider: provider,
		queue:    queue,
		applier:  applier,
		logger:   logger,
		opts:     opts,
	}
}

// Start launches the workers, watchdog, and reconciler. They run until ctx
// is canceled; Wait blocks until all of them have exited.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	if d.opts.DispatchTimeout > 0 {
		d.wg.Add(1)
		go d.watchdog(ctx)
	}
	if d.opts.ReconcileInterval > 0 && d.applier != nil {
		d.wg.Add(1)
		go d.reconciler(ctx)
	}
	d.logger.Info().
		Int("workers", d.opts.Workers).
		Str("provider", d.provider.Name()).
		Dur("dispatch_timeout", d.opts.DispatchTimeout).
		Dur("reconcile_interval", d.opts.ReconcileInterval).
		Msg("dispatch: started")
}

// Wait blocks until every loop started by Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RequeuePending pushes every job still queued in the store back onto the
// queue. Called once at boot so a restart does not strand accepted jobs;
// duplicates are harmless because workers skip anything not queued.
func (d *Dispatcher) RequeuePending(ctx context.Context) (int, error) {
	jobs, err := d.store.ListByStatus(ctx, domain.StatusQueued, 0)
	if err != nil {
		return 0, fmt.Errorf("dispatch: list queued jobs: %w", err)
	}
	requeued := 0
	for _, job := range jobs {
		if err := d.queue.Enqueue(ctx, job.ID); err != nil {
			return requeued, fmt.Errorf("dispatch: requeue %s: %w", job.ID, err)
		}
		requeued++
	}
	return requeued, nil
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		delivery, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			d.logger.Error().Err(err).Int("worker", id).Msg("dispatch: dequeue failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		requeue := d.dispatch(ctx, delivery.JobID)
		if requeue {
			// Pause before handing the id back so a broken dependency does
			// not spin the redelivery loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
		delivery.Done(requeue)
	}
}

// dispatch attempts to move one job from queued to dispatched. The returned
// flag asks the queue to redeliver; it is set only for interruptions that
// left the job queued, never for outcomes recorded in the store.
func (d *Dispatcher) dispatch(ctx context.Context, jobID string) bool {
	log := d.logger.With().Str("job_id", jobID).Logger()

	job, err := d.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("dispatch: unknown job id on queue")
			return false
		}
		log.Error().Err(err).Msg("dispatch: load job")
		return true
	}
	if job.Status != domain.StatusQueued {
		log.Debug().Str("status", string(job.Status)).Msg("dispatch: job no longer queued, skipping")
		return false
	}

	job.MarkStage(domain.StagePreprocessing, time.Now().UTC())
	if err := d.store.SetStage(ctx, job.ID, job.Stage, job.StageTimings, domain.StatusQueued); err != nil {
		log.Warn().Err(err).Msg("dispatch: record preprocessing stage")
	}

	desc, err := d.buildDescriptor(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		log.Error().Err(err).Msg("dispatch: prepare submission")
		d.fail(ctx, job, "submission failed: "+err.Error(), domain.FailureUnreachable)
		return false
	}

	submitCtx, cancel := context.WithTimeout(ctx, d.opts.SubmitTimeout)
	result, err := d.provider.Submit(submitCtx, desc)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		kind := domain.FailureUnreachable
		if errors.Is(err, domain.ErrRejected) {
			kind = domain.FailureRejected
		}
		log.Error().Err(err).Str("failure_kind", string(kind)).Msg("dispatch: submit failed")
		d.fail(ctx, job, "submission failed: "+err.Error(), kind)
		return false
	}

	job.MarkStage(domain.StageGenerating, time.Now().UTC())
	_, err = d.store.Transition(ctx, job.ID, domain.StatusQueued, domain.StatusDispatched, domain.TransitionFields{
		Stage:          domain.StageGenerating,
		StageTimings:   job.StageTimings,
		ExternalHandle: result.Handle,
		RequestID:      result.RequestID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			log.Warn().Str("handle", result.Handle).Msg("dispatch: lost claim after submit, dropping handle")
			return false
		}
		log.Error().Err(err).Str("handle", result.Handle).Msg("dispatch: record dispatch")
		return false
	}
	log.Info().
		Str("handle", result.Handle).
		Str("request_id", result.RequestID).
		Int("attempt", job.AttemptCount).
		Msg("dispatch: job dispatched")
	return false
}

func (d *Dispatcher) buildDescriptor(ctx context.Context, job *domain.Job) (compute.Descriptor, error) {
	urls := make(map[domain.AssetRole]string, len(job.AssetRefs))
	for role, ref := range job.AssetRefs {
		url, err := d.blobs.AssetURL(ctx, ref, d.opts.AssetTTL)
		if err != nil {
			return compute.Descriptor{}, fmt.Errorf("dispatch: asset url for %s: %w", role, err)
		}
		urls[role] = url
	}
	desc := compute.Descriptor{
		JobID:       job.ID,
		Mode:        job.Params.Mode,
		Quality:     job.Params.Quality,
		AspectRatio: job.Params.AspectRatio,
		Enable4K:    job.Params.Enable4K,
		AssetURLs:   urls,
	}
	target, err := d.blobs.OutputTarget(ctx, job.ID, "result.mp4", d.opts.AssetTTL)
	if err != nil {
		return compute.Descriptor{}, fmt.Errorf("dispatch: output target: %w", err)
	}
	if target != nil {
		desc.Output = &compute.OutputTarget{
			UploadURL: target.UploadURL,
			OutputURL: target.OutputURL,
			OutputRef: target.OutputRef,
		}
	}
	if url := d.callbackURL(); url != "" {
		desc.Callback = &compute.CallbackTarget{URL: url, Secret: d.opts.CallbackSecret}
	}
	return desc, nil
}

func (d *Dispatcher) fail(ctx context.Context, job *domain.Job, message string, kind domain.FailureKind) {
	job.MarkStage(domain.StageFailed, time.Now().UTC())
	_, err := d.store.Transition(ctx, job.ID, domain.StatusQueued, domain.StatusFailed, domain.TransitionFields{
		Stage:        domain.StageFailed,
		StageTimings: job.StageTimings,
		ErrorMessage: message,
		FailureKind:  kind,
	})
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch: record failure")
	}
}

func (d *Dispatcher) callbackURL() string {
	base := strings.TrimRight(d.opts.PublicBaseURL, "/")
	if !callbackReachable(base) {
		return ""
	}
	return base + "/v1/callbacks/compute"
}

// callbackReachable reports whether the public base URL is something a remote
// backend could plausibly call. Placeholder and loopback bases happen in
// local setups; submitting without a callback there beats submitting a dead
// one, since the reconciler still collects results.
func callbackReachable(base string) bool {
	if base == "" {
		return false
	}
	if strings.Contains(base, "your-tunnel-domain.example.com") {
		return false
	}
	if strings.HasPrefix(base, "http://localhost") || strings.HasPrefix(base, "http://127.0.0.1") {
		return false
	}
	return true
}

func (d *Dispatcher) watchdog(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepTimeouts(ctx)
		}
	}
}

// sweepTimeouts fails every dispatched job whose last write is older than the
// dispatch timeout. Nothing touches a dispatched row between dispatch and its
// terminal transition, so updated_at is the dispatch time.
func (d *Dispatcher) sweepTimeouts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-d.opts.DispatchTimeout)
	jobs, err := d.store.ListByStatus(ctx, domain.StatusDispatched, 0)
	if err != nil {
		d.logger.Error().Err(err).Msg("dispatch: watchdog scan")
		return
	}
	for _, job := range jobs {
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		job.MarkStage(domain.StageFailed, time.Now().UTC())
		_, err := d.store.Transition(ctx, job.ID, domain.StatusDispatched, domain.StatusFailed, domain.TransitionFields{
			Stage:        domain.StageFailed,
			StageTimings: job.StageTimings,
			ErrorMessage: fmt.Sprintf("no completion callback within %s", d.opts.DispatchTimeout),
			FailureKind:  domain.FailureTimeout,
		})
		if err != nil {
			// A conflict means a callback landed in the meantime, which is
			// exactly what the watchdog hopes for.
			if !errors.Is(err, domain.ErrConflict) {
				d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch: record timeout")
			}
			continue
		}
		d.logger.Warn().
			Str("job_id", job.ID).
			Str("handle", job.ExternalHandle).
			Dur("timeout", d.opts.DispatchTimeout).
			Msg("dispatch: job timed out waiting for completion")
	}
}

func (d *Dispatcher) reconciler(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reconcile(ctx)
		}
	}
}

// reconcile polls the backend for every dispatched job and applies terminal
// states through the same applier the callback handler uses. Poll errors are
// logged and retried on the next tick.
func (d *Dispatcher) reconcile(ctx context.Context) {
	jobs, err := d.store.ListByStatus(ctx, domain.StatusDispatched, 0)
	if err != nil {
		d.logger.Error().Err(err).Msg("dispatch: reconcile scan")
		return
	}
	for _, job := range jobs {
		if job.ExternalHandle == "" {
			continue
		}
		pollCtx, cancel := context.WithTimeout(ctx, d.opts.SubmitTimeout)
		status, err := d.provider.CheckStatus(pollCtx, job.ExternalHandle)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn().Err(err).Str("job_id", job.ID).Str("handle", job.ExternalHandle).Msg("dispatch: status poll failed")
			continue
		}
		if status.State == compute.StatePending {
			continue
		}
		if err := d.applier.ApplyRemoteStatus(ctx, job.ID, status); err != nil {
			d.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch: apply polled status")
		}
	}
}
