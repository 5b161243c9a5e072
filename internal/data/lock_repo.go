package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/domain/model"
	apperrors "github.com/complyops/jobrunner/internal/errors"
)

// LockRepo implements the execution lock over a Postgres table. Acquisition
// is a single INSERT .. ON CONFLICT statement whose conflict action only
// fires when the existing lease has expired, so the row flip is atomic and
// contention resolves to exactly one winner.
type LockRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewLockRepo creates a new LockRepo instance with the given database connection.
func NewLockRepo(db *sql.DB) *LockRepo {
	return &LockRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewLockRepoWithTimeProvider creates a LockRepo with a custom TimeProvider (useful for testing).
func NewLockRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *LockRepo {
	return &LockRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

var _ core.LockManager = (*LockRepo)(nil)
var _ core.LockPurger = (*LockRepo)(nil)
var _ core.LockInspector = (*LockRepo)(nil)

// Acquire attempts to take the execution lock for a job. A fresh holder
// token is generated per attempt; the statement inserts the row when absent,
// steals it when the existing lease has expired, and otherwise leaves it
// untouched. When the conflict guard rejects the update no row comes back,
// which is the lock-held case.
func (r *LockRepo) Acquire(ctx context.Context, p core.AcquireParams) (*model.Lease, bool, error) {
	if p.JobID == "" {
		return nil, false, errors.New("job id is required")
	}
	if p.TTL <= 0 {
		return nil, false, fmt.Errorf("lock ttl must be positive, got %s", p.TTL)
	}

	holder := uuid.New().String()
	now := r.timeProvider.Now().UTC()
	expires := now.Add(p.TTL)

	query := `
		INSERT INTO execution_locks (job_id, holder, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE
		SET holder = EXCLUDED.holder,
		    acquired_at = EXCLUDED.acquired_at,
		    expires_at = EXCLUDED.expires_at
		WHERE execution_locks.expires_at <= EXCLUDED.acquired_at
		RETURNING holder, expires_at
	`

	var (
		winner    string
		expiresAt time.Time
	)
	err := r.DB.QueryRowContext(ctx, query, p.JobID, holder, now, expires).Scan(&winner, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict action skipped: the incumbent lease is still live.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock for job %s: %w", p.JobID, apperrors.MapDBError(err))
	}
	if winner != holder {
		// Should be unreachable; RETURNING only yields rows we wrote.
		return nil, false, nil
	}

	return &model.Lease{
		JobID:     p.JobID,
		Holder:    holder,
		ExpiresAt: expiresAt,
	}, true, nil
}

// Release deletes the lock row only when it still carries our holder token.
// A lease that expired and was reclaimed by another runner is left alone;
// that is not an error, the caller's lease is simply gone.
func (r *LockRepo) Release(ctx context.Context, lease *model.Lease) error {
	if lease == nil {
		return errors.New("lease is required")
	}

	_, err := r.DB.ExecContext(ctx, `
		DELETE FROM execution_locks
		WHERE job_id = $1 AND holder = $2
	`, lease.JobID, lease.Holder)
	if err != nil {
		return fmt.Errorf("release lock for job %s: %w", lease.JobID, apperrors.MapDBError(err))
	}
	return nil
}

// ListLocks returns the contents of the lock table ordered by expiry,
// soonest first. Expired rows stay listed until an acquire reclaims them or
// the purge sweep removes them.
func (r *LockRepo) ListLocks(ctx context.Context) ([]model.ExecutionLock, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT job_id, holder, acquired_at, expires_at
		FROM execution_locks
		ORDER BY expires_at ASC, job_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list execution locks: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var locks []model.ExecutionLock
	for rows.Next() {
		var l model.ExecutionLock
		if scanErr := rows.Scan(&l.JobID, &l.Holder, &l.AcquiredAt, &l.ExpiresAt); scanErr != nil {
			return nil, fmt.Errorf("scan execution lock row: %w", scanErr)
		}
		locks = append(locks, l)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list execution locks: %w", apperrors.MapDBError(rowsErr))
	}
	return locks, nil
}

// PurgeExpiredLocks deletes lock rows whose lease expired before now.
// Expired rows are reclaimable in place, so this is housekeeping rather
// than correctness; it keeps the table from accumulating rows for jobs
// that stopped being scheduled.
func (r *LockRepo) PurgeExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM execution_locks
		WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired locks: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
