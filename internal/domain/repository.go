package domain

import "context"

// TransitionFields carries the side effects a status flip applies atomically
// with the flip itself. Zero-valued fields leave the stored column untouched;
// ClearDispatchState resets the dispatch bookkeeping in the same statement.
type TransitionFields struct {
	Stage            string
	StageTimings     StageTimings
	ExternalHandle   string
	RequestID        string
	OutputRef        string
	ErrorMessage     string
	FailureKind      FailureKind
	IncrementAttempt bool
	// ClearDispatchState nulls external handle, request id, output ref and
	// error message and blanks the failure kind; used by the retry edge.
	ClearDispatchState bool
}

// JobStore defines persistence for jobs. Transition is the only operation
// allowed to move status and must be conditional on the expected current
// status, so that concurrent movers cannot both win the same edge.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	// GetByConfigHash returns the newest job with the given dedup hash.
	GetByConfigHash(ctx context.Context, hash string) (*Job, error)
	// Transition flips status from -> to and applies fields in one
	// conditional update. It returns ErrConflict when the edge is illegal or
	// the current status no longer matches from, ErrNotFound when the job
	// does not exist.
	Transition(ctx context.Context, id string, from, to JobStatus, fields TransitionFields) (*Job, error)
	// SetStage updates the advisory stage marker and timings without moving
	// status; the write is guarded on the current status and silently skipped
	// when the guard fails.
	SetStage(ctx context.Context, id, stage string, timings StageTimings, guard JobStatus) error
	ListByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)
}
