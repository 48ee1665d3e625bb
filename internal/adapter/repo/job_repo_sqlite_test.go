package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
)

func newTestStore(t *testing.T) *JobStoreSQLite {
	t.Helper()
	store, err := NewJobStoreSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewJobStoreSQLite returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedJob(t *testing.T, store *JobStoreSQLite, id string, status domain.JobStatus) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID: id,
		Params: domain.JobParams{
			Mode:        domain.ModeVideoSwap,
			Quality:     domain.QualityBalanced,
			AspectRatio: "9:16",
		},
		ConfigHash: "hash-" + id,
		AssetRefs: map[domain.AssetRole]string{
			domain.RoleReferenceVideo: "uploads/" + id + "/ref.mp4",
			domain.RoleSourceImage:    "uploads/" + id + "/face.jpg",
		},
		Status: status,
		Stage:  domain.StageQueued,
		StageTimings: domain.StageTimings{
			domain.StageQueued: {Start: time.Now().UTC().Truncate(time.Millisecond)},
		},
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return job
}

func TestCreateAndGetByID(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-1", domain.StatusQueued)

	got, err := store.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Status != domain.StatusQueued {
		t.Fatalf("Status = %q, want queued", got.Status)
	}
	if got.Params.Mode != domain.ModeVideoSwap || got.Params.Quality != domain.QualityBalanced {
		t.Fatalf("Params = %+v, want video_swap/balanced", got.Params)
	}
	if got.AssetRefs[domain.RoleSourceImage] != "uploads/job-1/face.jpg" {
		t.Fatalf("AssetRefs = %+v", got.AssetRefs)
	}
	if _, ok := got.StageTimings[domain.StageQueued]; !ok {
		t.Fatalf("StageTimings = %+v, want queued window", got.StageTimings)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not persisted: %+v", got)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID error = %v, want ErrNotFound", err)
	}
}

func TestGetByConfigHashNewestWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := seedJob(t, store, "job-old", domain.StatusFailed)
	older.ConfigHash = "shared-hash"
	newer := seedJob(t, store, "job-new", domain.StatusQueued)
	newer.ConfigHash = "shared-hash"

	// Recreate with explicit creation times so ordering is deterministic.
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, job := range []*domain.Job{older, newer} {
		job.ID = job.ID + "-x"
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		job.UpdatedAt = job.CreatedAt
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	got, err := store.GetByConfigHash(ctx, "shared-hash")
	if err != nil {
		t.Fatalf("GetByConfigHash returned error: %v", err)
	}
	if got.ID != "job-new-x" {
		t.Fatalf("GetByConfigHash returned %q, want job-new-x", got.ID)
	}

	if _, err := store.GetByConfigHash(ctx, "absent-hash"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByConfigHash error = %v, want ErrNotFound", err)
	}
}

func TestTransitionDispatchExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1", domain.StatusQueued)

	fields := domain.TransitionFields{
		Stage:          domain.StageGenerating,
		ExternalHandle: "rp-123",
		RequestID:      "req-1",
	}
	job, err := store.Transition(ctx, "job-1", domain.StatusQueued, domain.StatusDispatched, fields)
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if job.Status != domain.StatusDispatched {
		t.Fatalf("Status = %q, want dispatched", job.Status)
	}
	if job.ExternalHandle != "rp-123" || job.RequestID != "req-1" {
		t.Fatalf("handle/request = %q/%q, want rp-123/req-1", job.ExternalHandle, job.RequestID)
	}
	if job.Stage != domain.StageGenerating {
		t.Fatalf("Stage = %q, want generating", job.Stage)
	}

	// Replaying the same edge must lose.
	if _, err := store.Transition(ctx, "job-1", domain.StatusQueued, domain.StatusDispatched, fields); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("replay error = %v, want ErrConflict", err)
	}
}

func TestTransitionIllegalEdge(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-1", domain.StatusQueued)

	if _, err := store.Transition(context.Background(), "job-1", domain.StatusQueued, domain.StatusCompleted, domain.TransitionFields{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("illegal edge error = %v, want ErrConflict", err)
	}

	got, err := store.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Status != domain.StatusQueued {
		t.Fatalf("illegal edge mutated status to %q", got.Status)
	}
}

func TestTransitionMissingJob(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Transition(context.Background(), "ghost", domain.StatusQueued, domain.StatusDispatched, domain.TransitionFields{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Transition error = %v, want ErrNotFound", err)
	}
}

func TestTransitionRetryEdgeClearsDispatchState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1", domain.StatusQueued)

	if _, err := store.Transition(ctx, "job-1", domain.StatusQueued, domain.StatusDispatched, domain.TransitionFields{ExternalHandle: "rp-1", RequestID: "req-1"}); err != nil {
		t.Fatalf("dispatch transition: %v", err)
	}
	if _, err := store.Transition(ctx, "job-1", domain.StatusDispatched, domain.StatusFailed, domain.TransitionFields{
		Stage:        domain.StageFailed,
		ErrorMessage: "worker exploded",
		FailureKind:  domain.FailureRemote,
	}); err != nil {
		t.Fatalf("fail transition: %v", err)
	}

	job, err := store.Transition(ctx, "job-1", domain.StatusFailed, domain.StatusQueued, domain.TransitionFields{
		Stage:              domain.StageQueued,
		IncrementAttempt:   true,
		ClearDispatchState: true,
	})
	if err != nil {
		t.Fatalf("retry transition: %v", err)
	}
	if job.AttemptCount != 1 {
		t.Fatalf("AttemptCount = %d, want 1", job.AttemptCount)
	}
	if job.ExternalHandle != "" || job.RequestID != "" || job.ErrorMessage != "" || job.FailureKind != "" || job.OutputRef != "" {
		t.Fatalf("dispatch state not cleared: %+v", job)
	}
	if job.Stage != domain.StageQueued {
		t.Fatalf("Stage = %q, want queued", job.Stage)
	}
}

func TestTransitionConcurrentClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1", domain.StatusQueued)

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan string, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			handle := string(rune('a' + n))
			if _, err := store.Transition(ctx, "job-1", domain.StatusQueued, domain.StatusDispatched, domain.TransitionFields{ExternalHandle: handle}); err == nil {
				wins <- handle
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}

	job, err := store.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if job.ExternalHandle != winners[0] {
		t.Fatalf("handle = %q, want winner %q", job.ExternalHandle, winners[0])
	}
}

func TestSetStageGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	job := seedJob(t, store, "job-1", domain.StatusQueued)

	job.MarkStage(domain.StagePreprocessing, time.Now().UTC())
	if err := store.SetStage(ctx, job.ID, job.Stage, job.StageTimings, domain.StatusQueued); err != nil {
		t.Fatalf("SetStage returned error: %v", err)
	}
	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Stage != domain.StagePreprocessing {
		t.Fatalf("Stage = %q, want preprocessing", got.Stage)
	}

	// A stale guard must not clobber the stage.
	if err := store.SetStage(ctx, job.ID, domain.StageDone, nil, domain.StatusDispatched); err != nil {
		t.Fatalf("SetStage returned error: %v", err)
	}
	got, err = store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Stage != domain.StagePreprocessing {
		t.Fatalf("stale guard overwrote stage: %q", got.Stage)
	}
}

func TestListByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		job := &domain.Job{
			ID:        id,
			Params:    domain.JobParams{Mode: domain.ModePhotoSing, Quality: domain.QualityFast, AspectRatio: "1:1"},
			Status:    domain.StatusQueued,
			Stage:     domain.StageQueued,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
	seedJob(t, store, "job-d", domain.StatusFailed)

	queued, err := store.ListByStatus(ctx, domain.StatusQueued, 10)
	if err != nil {
		t.Fatalf("ListByStatus returned error: %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("len(queued) = %d, want 3", len(queued))
	}
	if queued[0].ID != "job-a" || queued[2].ID != "job-c" {
		t.Fatalf("order = %s..%s, want job-a..job-c", queued[0].ID, queued[2].ID)
	}

	limited, err := store.ListByStatus(ctx, domain.StatusQueued, 2)
	if err != nil {
		t.Fatalf("ListByStatus returned error: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("len(limited) = %d, want 2", len(limited))
	}
}
