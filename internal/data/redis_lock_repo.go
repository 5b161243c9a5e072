package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/domain/model"
)

// releaseScript deletes the lock key only when it still holds the caller's
// token. GET and DEL must be one atomic step or a runner could delete a
// lock that was reclaimed after its own lease expired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockRepo implements the execution lock on Redis using SET NX with a
// millisecond expiry. Reclaim of stale leases is implicit: Redis drops the
// key when the TTL lapses, so the next SET NX simply succeeds.
type RedisLockRepo struct {
	client       redis.UniversalClient
	keyPrefix    string
	timeProvider TimeProvider
}

// NewRedisLockRepo creates a new RedisLockRepo with the given Redis client.
func NewRedisLockRepo(client redis.UniversalClient) *RedisLockRepo {
	return &RedisLockRepo{
		client:       client,
		keyPrefix:    "jobrunner:lock:",
		timeProvider: &RealTimeProvider{},
	}
}

// NewRedisLockRepoWithTimeProvider creates a RedisLockRepo with a custom TimeProvider (useful for testing).
func NewRedisLockRepoWithTimeProvider(client redis.UniversalClient, timeProvider TimeProvider) *RedisLockRepo {
	repo := NewRedisLockRepo(client)
	repo.timeProvider = timeProvider
	return repo
}

var _ core.LockManager = (*RedisLockRepo)(nil)

func (r *RedisLockRepo) key(jobID string) string {
	return r.keyPrefix + jobID
}

// Acquire attempts SET NX on the job's lock key with the TTL as expiry.
func (r *RedisLockRepo) Acquire(ctx context.Context, p core.AcquireParams) (*model.Lease, bool, error) {
	if p.JobID == "" {
		return nil, false, errors.New("job id is required")
	}
	if p.TTL <= 0 {
		return nil, false, fmt.Errorf("lock ttl must be positive, got %s", p.TTL)
	}

	holder := uuid.New().String()
	ok, err := r.client.SetNX(ctx, r.key(p.JobID), holder, p.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock for job %s: %w", p.JobID, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &model.Lease{
		JobID:     p.JobID,
		Holder:    holder,
		ExpiresAt: r.timeProvider.Now().Add(p.TTL),
	}, true, nil
}

// Release runs the token-checked delete script. Releasing a lease that
// already expired and was taken over is a no-op.
func (r *RedisLockRepo) Release(ctx context.Context, lease *model.Lease) error {
	if lease == nil {
		return errors.New("lease is required")
	}

	err := releaseScript.Run(ctx, r.client, []string{r.key(lease.JobID)}, lease.Holder).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock for job %s: %w", lease.JobID, err)
	}
	return nil
}

// Held reports whether any runner currently holds the lock for the job.
func (r *RedisLockRepo) Held(ctx context.Context, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock for job %s: %w", jobID, err)
	}
	return n > 0, nil
}
