package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
)

// sqliteSchema is applied on open. Timestamps are unix milliseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	quality TEXT NOT NULL,
	aspect_ratio TEXT NOT NULL,
	enable_4k INTEGER NOT NULL DEFAULT 0,
	config_hash TEXT NOT NULL DEFAULT '',
	asset_refs TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	stage_timings TEXT NOT NULL DEFAULT '{}',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	failure_kind TEXT NOT NULL DEFAULT '',
	external_handle TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	output_ref TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_config_hash ON jobs(config_hash, created_at);
`

const jobColumns = `id, mode, quality, aspect_ratio, enable_4k, config_hash, asset_refs, status, stage, stage_timings, attempt_count, failure_kind, external_handle, request_id, output_ref, error_message, created_at, updated_at`

// JobStoreSQLite implements domain.JobStore on an embedded SQLite database.
// It is the default store; WAL mode and a busy timeout keep the api handlers
// and the dispatcher from tripping over each other's writes.
type JobStoreSQLite struct {
	db *sql.DB
}

// NewJobStoreSQLite opens the database at path, creating it and the schema
// when absent. Pragmas are appended unless the caller supplied its own DSN
// query string.
func NewJobStoreSQLite(path string) (*JobStoreSQLite, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo: apply schema: %w", err)
	}
	return &JobStoreSQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *JobStoreSQLite) Close() error {
	return s.db.Close()
}

// Create inserts a new job record.
func (s *JobStoreSQLite) Create(ctx context.Context, job *domain.Job) error {
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(ctx, query,
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
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("repo: insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (s *JobStoreSQLite) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?;`
	return scanJobSQLite(s.db.QueryRowContext(ctx, query, id))
}

// GetByConfigHash returns the newest job carrying the given dedup hash.
func (s *JobStoreSQLite) GetByConfigHash(ctx context.Context, hash string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE config_hash = ? ORDER BY created_at DESC, id DESC LIMIT 1;`
	return scanJobSQLite(s.db.QueryRowContext(ctx, query, hash))
}

// Transition flips status from -> to and applies fields in a single
// conditional update keyed on the current status.
func (s *JobStoreSQLite) Transition(ctx context.Context, id string, from, to domain.JobStatus, fields domain.TransitionFields) (*domain.Job, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("repo: illegal transition %s -> %s: %w", from, to, domain.ErrConflict)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{to, time.Now().UTC().UnixMilli()}

	if fields.Stage != "" {
		set = append(set, "stage = ?")
		args = append(args, fields.Stage)
	}
	if fields.StageTimings != nil {
		encoded, err := json.Marshal(fields.StageTimings)
		if err != nil {
			return nil, fmt.Errorf("repo: encode stage timings: %w", err)
		}
		set = append(set, "stage_timings = ?")
		args = append(args, encoded)
	}
	if fields.ExternalHandle != "" {
		set = append(set, "external_handle = ?")
		args = append(args, fields.ExternalHandle)
	}
	if fields.RequestID != "" {
		set = append(set, "request_id = ?")
		args = append(args, fields.RequestID)
	}
	if fields.OutputRef != "" {
		set = append(set, "output_ref = ?")
		args = append(args, fields.OutputRef)
	}
	if fields.ErrorMessage != "" {
		set = append(set, "error_message = ?")
		args = append(args, fields.ErrorMessage)
	}
	if fields.FailureKind != "" {
		set = append(set, "failure_kind = ?")
		args = append(args, fields.FailureKind)
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
	query := `UPDATE jobs SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND status = ?;`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("repo: transition result: %w", err)
	}
	if affected == 0 {
		// Distinguish a vanished job from a lost status race.
		if _, err := s.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrConflict
	}
	return s.GetByID(ctx, id)
}

// SetStage updates the advisory stage marker while the guard status holds.
func (s *JobStoreSQLite) SetStage(ctx context.Context, id, stage string, timings domain.StageTimings, guard domain.JobStatus) error {
	encoded, err := json.Marshal(timingsOrEmpty(timings))
	if err != nil {
		return fmt.Errorf("repo: encode stage timings: %w", err)
	}
	query := `UPDATE jobs SET stage = ?, stage_timings = ?, updated_at = ? WHERE id = ? AND status = ?;`
	if _, err := s.db.ExecContext(ctx, query, stage, encoded, time.Now().UTC().UnixMilli(), id, guard); err != nil {
		return fmt.Errorf("repo: set stage: %w", err)
	}
	return nil
}

// ListByStatus returns jobs in the given status, oldest first.
func (s *JobStoreSQLite) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: list by status: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJobSQLite(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobSQLite(row rowScanner) (*domain.Job, error) {
	var (
		job       domain.Job
		assetRefs []byte
		timings   []byte
		createdAt int64
		updatedAt int64
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
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := decodeJobJSON(&job, assetRefs, timings); err != nil {
		return nil, err
	}
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &job, nil
}

const defaultListLimit = 500

func encodeJobJSON(job *domain.Job) (assetRefs, timings []byte, err error) {
	assetRefs, err = json.Marshal(refsOrEmpty(job.AssetRefs))
	if err != nil {
		return nil, nil, fmt.Errorf("repo: encode asset refs: %w", err)
	}
	timings, err = json.Marshal(timingsOrEmpty(job.StageTimings))
	if err != nil {
		return nil, nil, fmt.Errorf("repo: encode stage timings: %w", err)
	}
	return assetRefs, timings, nil
}

func decodeJobJSON(job *domain.Job, assetRefs, timings []byte) error {
	if err := json.Unmarshal(assetRefs, &job.AssetRefs); err != nil {
		return fmt.Errorf("repo: decode asset refs: %w", err)
	}
	if err := json.Unmarshal(timings, &job.StageTimings); err != nil {
		return fmt.Errorf("repo: decode stage timings: %w", err)
	}
	return nil
}

func refsOrEmpty(refs map[domain.AssetRole]string) map[domain.AssetRole]string {
	if refs == nil {
		return map[domain.AssetRole]string{}
	}
	return refs
}

func timingsOrEmpty(timings domain.StageTimings) domain.StageTimings {
	if timings == nil {
		return domain.StageTimings{}
	}
	return timings
}
