package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/complyops/jobrunner/internal/data/pgxutil"
	domainjob "github.com/complyops/jobrunner/internal/domain/job"
	"github.com/complyops/jobrunner/internal/domain/model"
	apperrors "github.com/complyops/jobrunner/internal/errors"
	"github.com/complyops/jobrunner/internal/schedule"
)

// JobRepo provides database operations for job definitions. All mutations
// are single-row conditional updates; the status predicate in each UPDATE is
// what makes state transitions atomic under concurrent runners.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobRepo creates a new JobRepo instance with the given database connection.
func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewJobRepoWithTimeProvider creates a JobRepo with a custom TimeProvider (useful for testing).
func NewJobRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *JobRepo {
	return &JobRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const jobColumns = `
  id,
  tenant,
  job_type,
  schedule,
  status,
  last_run_at,
  next_run_at,
  last_result,
  error_count,
  max_run_duration_ms,
  created_at,
  updated_at
`

// Get returns the job definition or an error wrapping model.ErrJobNotFound.
func (r *JobRepo) Get(ctx context.Context, id string) (*model.JobDefinition, error) {
	query := `SELECT ` + jobColumns + ` FROM job_definitions WHERE id = $1`

	var job *model.JobDefinition
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, id)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectOneRow(rows, rowToJobDefinition)
		if collectErr != nil {
			return collectErr
		}
		job = &collected
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("get job definition %s: %w", id, apperrors.MapDBError(err))
	}
	return job, nil
}

// List returns job definitions ordered by id. An empty tenant matches all tenants.
func (r *JobRepo) List(ctx context.Context, tenant string) ([]model.JobDefinition, error) {
	query := `SELECT ` + jobColumns + ` FROM job_definitions WHERE ($1 = '' OR tenant = $1) ORDER BY id`

	var jobs []model.JobDefinition
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, tenant)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToJobDefinition)
		if collectErr != nil {
			return collectErr
		}
		jobs = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list job definitions: %w", apperrors.MapDBError(err))
	}
	return jobs, nil
}

// FindDue returns jobs eligible for automatic triggering: next_run_at has
// arrived and status is active or failed. Paused and running jobs never
// appear here.
func (r *JobRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]model.JobDefinition, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `
		SELECT ` + jobColumns + `
		FROM job_definitions
		WHERE status IN ('active', 'failed')
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at ASC, id ASC
		LIMIT $2
	`

	var jobs []model.JobDefinition
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, now.UTC(), limit)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToJobDefinition)
		if collectErr != nil {
			return collectErr
		}
		jobs = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", apperrors.MapDBError(err))
	}
	return jobs, nil
}

// MarkRunning flips the job to RUNNING, conditional on the status still
// being idle. When the conditional update affects no row, the current row is
// re-read to distinguish a missing job from one already running.
func (r *JobRepo) MarkRunning(ctx context.Context, id string, now time.Time) (*model.JobDefinition, error) {
	query := `
		UPDATE job_definitions
		SET status = 'running', updated_at = $2
		WHERE id = $1 AND status IN ('active', 'failed', 'paused')
		RETURNING ` + jobColumns

	job, err := r.queryOneRow(ctx, query, id, now.UTC())
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark job %s running: %w", id, apperrors.MapDBError(err))
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == model.JobStatusRunning {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyRunning, id)
	}
	return nil, fmt.Errorf("mark job %s running: unexpected status %q", id, current.Status)
}

// ApplyTransition persists a state-machine transition, conditional on the
// job's status still being tr.From.
func (r *JobRepo) ApplyTransition(ctx context.Context, id string, tr domainjob.Transition) (*model.JobDefinition, error) {
	resultJSON, err := json.Marshal(tr.LastResult)
	if err != nil {
		return nil, fmt.Errorf("marshal execution result: %w", err)
	}

	query := `
		UPDATE job_definitions
		SET status = $2,
		    last_run_at = $3,
		    next_run_at = $4,
		    last_result = $5,
		    error_count = $6,
		    updated_at = $7
		WHERE id = $1 AND status = $8
		RETURNING ` + jobColumns

	job, err := r.queryOneRow(ctx, query,
		id,
		string(tr.To),
		tr.LastRunAt.UTC(),
		tr.NextRunAt.UTC(),
		resultJSON,
		tr.ErrorCount,
		r.timeProvider.Now().UTC(),
		string(tr.From),
	)
	if err == nil {
		return job, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the job vanished or its status moved under us; both mean
		// the transition no longer applies.
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeConflict,
			"transition job %s from %s: status changed concurrently", id, tr.From)
	}
	return nil, fmt.Errorf("transition job %s: %w", id, apperrors.MapDBError(err))
}

// Upsert creates or updates a job definition. The schedule is revalidated
// and the next run recomputed from now; job_type is immutable on update.
func (r *JobRepo) Upsert(ctx context.Context, req *model.UpsertJobRequest) (*model.JobDefinition, error) {
	if req == nil {
		return nil, errors.New("upsert job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job definition")
	}

	now := r.timeProvider.Now()
	next, err := schedule.NextRun(req.Schedule, now)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO job_definitions (id, tenant, job_type, schedule, status, next_run_at, max_run_duration_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET tenant = EXCLUDED.tenant,
		    schedule = EXCLUDED.schedule,
		    next_run_at = EXCLUDED.next_run_at,
		    max_run_duration_ms = EXCLUDED.max_run_duration_ms,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + jobColumns

	job, err := r.queryOneRow(ctx, query,
		req.ID,
		req.Tenant,
		req.JobType,
		req.Schedule.String(),
		next.UTC(),
		req.MaxRunDuration.Milliseconds(),
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert job definition %s: %w", req.ID, apperrors.MapDBError(err))
	}
	return job, nil
}

// SetPaused pauses or resumes a job. Pausing leaves next_run_at stale (the
// due-job query filters on status, so a stale value is harmless and keeps
// the last computed fire time visible to operators). Resuming recomputes
// next_run_at from now. Returns false when no idle row matched.
func (r *JobRepo) SetPaused(ctx context.Context, id string, paused bool) (bool, error) {
	now := r.timeProvider.Now()

	if paused {
		res, err := r.DB.ExecContext(ctx, `
			UPDATE job_definitions
			SET status = 'paused', updated_at = $2
			WHERE id = $1 AND status IN ('active', 'failed')
		`, id, now.UTC())
		if err != nil {
			return false, fmt.Errorf("pause job %s: %w", id, apperrors.MapDBError(err))
		}
		return affectedRows(res)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	next, err := schedule.NextRun(current.Schedule, now)
	if err != nil {
		return false, err
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_definitions
		SET status = 'active', next_run_at = $2, updated_at = $3
		WHERE id = $1 AND status = 'paused'
	`, id, next.UTC(), now.UTC())
	if err != nil {
		return false, fmt.Errorf("resume job %s: %w", id, apperrors.MapDBError(err))
	}
	return affectedRows(res)
}

// Delete removes a job definition. Returns true if a row was deleted.
func (r *JobRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM job_definitions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job definition %s: %w", id, apperrors.MapDBError(err))
	}
	return affectedRows(res)
}

// FindStaleRunning returns jobs persisted as RUNNING that have not been
// touched since before the cutoff. With the cutoff set past the lock TTL,
// these are executions whose runner died without completing.
func (r *JobRepo) FindStaleRunning(ctx context.Context, cutoff time.Time, limit int) ([]model.JobDefinition, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `
		SELECT ` + jobColumns + `
		FROM job_definitions
		WHERE status = 'running' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	var jobs []model.JobDefinition
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, cutoff.UTC(), limit)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, rowToJobDefinition)
		if collectErr != nil {
			return collectErr
		}
		jobs = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query stale running jobs: %w", apperrors.MapDBError(err))
	}
	return jobs, nil
}

// queryOneRow executes a query expected to return exactly one job row.
func (r *JobRepo) queryOneRow(ctx context.Context, query string, args ...any) (*model.JobDefinition, error) {
	var job *model.JobDefinition
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectOneRow(rows, rowToJobDefinition)
		if collectErr != nil {
			return collectErr
		}
		job = &collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func affectedRows(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// jobDefinitionRow matches the job_definitions schema exactly, allowing
// pgx.RowToStructByName to work.
type jobDefinitionRow struct {
	ID               string       `db:"id"`
	Tenant           string       `db:"tenant"`
	JobType          string       `db:"job_type"`
	Schedule         string       `db:"schedule"`
	Status           string       `db:"status"`
	LastRunAt        sql.NullTime `db:"last_run_at"`
	NextRunAt        sql.NullTime `db:"next_run_at"`
	LastResult       []byte       `db:"last_result"`
	ErrorCount       int          `db:"error_count"`
	MaxRunDurationMS int64        `db:"max_run_duration_ms"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// toDomain converts a jobDefinitionRow to model.JobDefinition.
func (row *jobDefinitionRow) toDomain() (model.JobDefinition, error) {
	spec, err := model.ParseSchedule(row.Schedule)
	if err != nil {
		return model.JobDefinition{}, fmt.Errorf("job %s: stored schedule %q: %w", row.ID, row.Schedule, err)
	}

	job := model.JobDefinition{
		ID:             row.ID,
		Tenant:         row.Tenant,
		JobType:        row.JobType,
		Schedule:       spec,
		Status:         model.JobStatus(strings.ToLower(row.Status)),
		MaxRunDuration: time.Duration(row.MaxRunDurationMS) * time.Millisecond,
		ErrorCount:     row.ErrorCount,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.LastRunAt.Valid {
		t := row.LastRunAt.Time
		job.LastRunAt = &t
	}
	if row.NextRunAt.Valid {
		t := row.NextRunAt.Time
		job.NextRunAt = &t
	}
	if len(row.LastResult) > 0 {
		var res model.ExecutionResult
		if unmarshalErr := json.Unmarshal(row.LastResult, &res); unmarshalErr != nil {
			return model.JobDefinition{}, fmt.Errorf("job %s: stored last_result: %w", row.ID, unmarshalErr)
		}
		job.LastResult = &res
	}
	return job, nil
}

// rowToJobDefinition maps a pgx row to model.JobDefinition using pgx v5 generics.
func rowToJobDefinition(row pgx.CollectableRow) (model.JobDefinition, error) {
	dbRow, err := pgx.RowToStructByName[jobDefinitionRow](row)
	if err != nil {
		return model.JobDefinition{}, fmt.Errorf("scan job definition row: %w", err)
	}
	return dbRow.toDomain()
}
