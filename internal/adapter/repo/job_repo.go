package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
)

// SchemaPG is the Postgres DDL for the jobs table, applied on startup.
const SchemaPG = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	quality TEXT NOT NULL,
	aspect_ratio TEXT NOT NULL,
	enable_4k BOOLEAN NOT NULL DEFAULT FALSE,
	config_hash TEXT NOT NULL DEFAULT '',
	asset_refs JSONB NOT NULL DEFAULT '{}'::jsonb,
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	stage_timings JSONB NOT NULL DEFAULT '{}'::jsonb,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	failure_kind TEXT NOT NULL DEFAULT '',
	external_handle TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	output_ref TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_config_hash ON jobs (config_hash, created_at DESC);
`

// JobStorePG implements domain.JobStore backed by PostgreSQL.
type JobStorePG struct {
	pool *pgxpool.Pool
}

// NewJobStorePG creates a job store backed by the given pool.
func NewJobStorePG(pool *pgxpool.Pool) *JobStorePG {
	return &JobStorePG{pool: pool}
}

// EnsureSchema applies the jobs DDL.
func (r *JobStorePG) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, SchemaPG); err != nil {
		return fmt.Errorf("repo: apply schema: %w", err)
	}
	return nil
}

// Create inserts a new job record.
func (r *JobStorePG) Create(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	assetRefs, timings, err := encodeJobJSON(job)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Params.Mode,
		job.Params.Quality,
		job.Params.AspectRatio,
		job.Params.Enable4K,
		job.ConfigHash,
		assetRefs,
		job.Status,
		job.Stage,
		timings,
		job.AttemptCount,
		job.FailureKind,
		job.ExternalHandle,
		job.RequestID,
		job.OutputRef,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repo: insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobStorePG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return scanJobPG(r.pool.QueryRow(ctx, query, id))
}

// GetByConfigHash returns the newest job carrying the given dedup hash.
func (r *JobStorePG) GetByConfigHash(ctx context.Context, hash string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE config_hash = $1 ORDER BY created_at DESC, id DESC LIMIT 1;`
	return scanJobPG(r.pool.QueryRow(ctx, query, hash))
}

// Transition flips status from -> to and applies fields in a single
// conditional update keyed on the current status.
func (r *JobStorePG) Transition(ctx context.Context, id string, from, to domain.JobStatus, fields domain.TransitionFields) (*domain.Job, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("repo: illegal transition %s -> %s: %w", from, to, domain.ErrConflict)
	}

	set := []string{"status = $1", "updated_at = $2"}
	args := []any{to, time.Now().UTC()}
	add := func(column string, val any) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.Stage != "" {
		add("stage", fields.Stage)
	}
	if fields.StageTimings != nil {
		encoded, err := json.Marshal(fields.StageTimings)
		if err != nil {
			return nil, fmt.Errorf("repo: encode stage timings: %w", err)
		}
		add("stage_timings", encoded)
	}
	if fields.ExternalHandle != "" {
		add("external_handle", fields.ExternalHandle)
	}
	if fields.RequestID != "" {
		add("request_id", fields.RequestID)
	}
	if fields.OutputRef != "" {
		add("output_ref", fields.OutputRef)
	}
	if fields.ErrorMessage != "" {
		add("error_message", fields.ErrorMessage)
	}
	if fields.FailureKind != "" {
		add("failure_kind", fields.FailureKind)
	}
	if fields.IncrementAttempt {
		set = append(set, "attempt_count = attempt_count + 1")
	}
	if fields.ClearDispatchState {
		set = append(set,
			"external_handle = ''",
			"request_id = ''",
			"output_ref = ''",
			"error_message = ''",
			"failure_kind = ''",
		)
	}

	args = append(args, id, from)
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d AND status = $%d;`,
		strings.Join(set, ", "), len(args)-1, len(args))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a vanished job from a lost status race.
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrConflict
	}
	return r.GetByID(ctx, id)
}

// SetStage updates the advisory stage marker while the guard status holds.
func (r *JobStorePG) SetStage(ctx context.Context, id, stage string, timings domain.StageTimings, guard domain.JobStatus) error {
	encoded, err := json.Marshal(timingsOrEmpty(timings))
	if err != nil {
		return fmt.Errorf("repo: encode stage timings: %w", err)
	}
	query := `UPDATE jobs SET stage = $1, stage_timings = $2, updated_at = $3 WHERE id = $4 AND status = $5;`
	if _, err := r.pool.Exec(ctx, query, stage, encoded, time.Now().UTC(), id, guard); err != nil {
		return fmt.Errorf("repo: set stage: %w", err)
	}
	return nil
}

// ListByStatus returns jobs in the given status, oldest first.
func (r *JobStorePG) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC, id ASC LIMIT $2;`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list by status: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJobPG(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list by status: %w", err)
	}
	return jobs, nil
}

func scanJobPG(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		assetRefs []byte
		timings   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Params.Mode,
		&job.Params.Quality,
		&job.Params.AspectRatio,
		&job.Params.Enable4K,
		&job.ConfigHash,
		&assetRefs,
		&job.Status,
		&job.Stage,
		&timings,
		&job.AttemptCount,
		&job.FailureKind,
		&job.ExternalHandle,
		&job.RequestID,
		&job.OutputRef,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := decodeJobJSON(&job, assetRefs, timings); err != nil {
		return nil, err
	}
	return &job, nil
}
