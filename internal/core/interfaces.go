// Package core defines the ports between the runner services and their
// storage and locking collaborators. Implementations live in internal/data.
package core

import (
	"context"
	"time"

	domainjob "github.com/complyops/jobrunner/internal/domain/job"
	"github.com/complyops/jobrunner/internal/domain/model"
)

// JobStore provides durable access to job definitions. All mutations are
// atomic, single-record operations; no method spans multiple jobs in one
// transaction, keeping contention strictly per-job.
type JobStore interface {
	// Get returns the job definition or an error wrapping model.ErrJobNotFound.
	Get(ctx context.Context, id string) (*model.JobDefinition, error)

	// List returns job definitions for display/alerting. An empty tenant
	// matches all tenants.
	List(ctx context.Context, tenant string) ([]model.JobDefinition, error)

	// FindDue returns jobs with next_run_at <= now and a status eligible for
	// automatic triggering (active or failed; never paused or running).
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.JobDefinition, error)

	// MarkRunning flips the job to RUNNING, conditional on its status still
	// being idle. Returns the updated definition, model.ErrJobNotFound, or
	// model.ErrAlreadyRunning when the conditional update loses the race.
	MarkRunning(ctx context.Context, id string, now time.Time) (*model.JobDefinition, error)

	// ApplyTransition persists a state-machine transition, conditional on
	// the job's status still being tr.From. Returns the updated definition.
	ApplyTransition(ctx context.Context, id string, tr domainjob.Transition) (*model.JobDefinition, error)
}

// JobAdminStore provides the configuration-time operations of the operator
// surface: creating and amending definitions, pausing, resuming, removing.
type JobAdminStore interface {
	// Upsert creates or updates a job definition. JobType is immutable;
	// updates to an existing row leave it unchanged.
	Upsert(ctx context.Context, req *model.UpsertJobRequest) (*model.JobDefinition, error)

	// SetPaused pauses or resumes a job. Resuming recomputes next_run_at
	// from now; pausing leaves it stale. Only idle jobs can be paused.
	// Returns false if the job does not exist or is currently running.
	SetPaused(ctx context.Context, id string, paused bool) (bool, error)

	// Delete removes a job definition. Returns true if a row was deleted.
	Delete(ctx context.Context, id string) (bool, error)
}

// AcquireParams groups the inputs to LockManager.Acquire.
type AcquireParams struct {
	JobID string
	// TTL bounds worst-case staleness: a crashed holder's lock self-expires
	// after this duration and becomes reclaimable.
	TTL time.Duration
}

// LockManager grants an exclusive execution right per job id.
//
// Acquire is atomic against concurrent attempts for the same job id:
// the lock record is created only if none exists or the existing one has
// expired. Release verifies the holder token so a finished execution whose
// lock already expired and was reclaimed cannot delete the new holder's
// lock; releasing an absent lock is a no-op.
type LockManager interface {
	Acquire(ctx context.Context, p AcquireParams) (*model.Lease, bool, error)
	Release(ctx context.Context, lease *model.Lease) error
}

// ReaperStore provides the crash-recovery sweep query. A job persisted as
// RUNNING whose record has not been touched since before the cutoff is the
// signature of a crashed runner; its lock has expired or soon will.
type ReaperStore interface {
	FindStaleRunning(ctx context.Context, cutoff time.Time, limit int) ([]model.JobDefinition, error)
}

// LockPurger removes expired lock records. Implemented by lock managers
// whose backend does not expire records on its own (Postgres rows; Redis
// keys expire natively and need no purging).
type LockPurger interface {
	// PurgeExpiredLocks deletes lock records that expired before now and
	// returns how many were removed.
	PurgeExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// LockInspector exposes the current lock records for operator inspection.
// Implemented by lock managers whose backend keeps enumerable records
// (Postgres rows); the run protocol never reads it.
type LockInspector interface {
	// ListLocks returns all lock records, expired ones included, ordered by
	// expiry soonest first.
	ListLocks(ctx context.Context) ([]model.ExecutionLock, error)
}

// FeedCache caches regulatory feed validators (ETags, checksums) between
// polls so unchanged feeds are not re-downloaded.
type FeedCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
