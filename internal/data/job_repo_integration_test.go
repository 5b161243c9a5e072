package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainjob "github.com/complyops/jobrunner/internal/domain/job"
	"github.com/complyops/jobrunner/internal/domain/model"
	apperrors "github.com/complyops/jobrunner/internal/errors"
	"github.com/complyops/jobrunner/internal/testutil"
)

// TestJobRepo_Integration_UpsertAndGet tests round-tripping a definition
// through the database, including schedule and result serialization.
func TestJobRepo_Integration_UpsertAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		created, err := repo.Upsert(ctx, testutil.NewJobRequest("job-a").WithInterval(30*time.Minute).Build())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusActive, created.Status)
		require.NotNil(t, created.NextRunAt)
		assert.Nil(t, created.LastRunAt)

		got, err := repo.Get(ctx, "job-a")
		require.NoError(t, err)
		assert.Equal(t, "acme", got.Tenant)
		assert.Equal(t, 30*time.Minute, got.Schedule.Every)
		assert.Zero(t, got.MaxRunDuration)

		// Re-upserting changes the schedule and run budget but never the
		// job type.
		updated, err := repo.Upsert(ctx, testutil.NewJobRequest("job-a").
			WithType("somethingElse").
			WithCron("0 8 * * *").
			WithMaxRunDuration(90*time.Second).
			Build())
		require.NoError(t, err)
		assert.Equal(t, "riskSnapshot", updated.JobType)
		assert.Equal(t, "0 8 * * *", updated.Schedule.Cron)
		assert.Equal(t, 90*time.Second, updated.MaxRunDuration)

		_, err = repo.Get(ctx, "missing")
		require.ErrorIs(t, err, model.ErrJobNotFound)
	})
}

// TestJobRepo_Integration_RunLifecycle drives a definition through one full
// run: due, marked running, completed, and back on schedule.
func TestJobRepo_Integration_RunLifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		job, err := repo.Upsert(ctx, testutil.NewJobRequest("job-life").WithInterval(time.Hour).Build())
		require.NoError(t, err)

		// The job becomes due once its next_run_at has passed.
		due, err := repo.FindDue(ctx, job.NextRunAt.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "job-life", due[0].ID)

		now := time.Now().UTC()
		running, err := repo.MarkRunning(ctx, job.ID, now)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRunning, running.Status)

		// A second begin-run attempt loses the conditional update.
		_, err = repo.MarkRunning(ctx, job.ID, now)
		require.ErrorIs(t, err, model.ErrAlreadyRunning)

		tr, err := domainjob.CompleteRun(*running, model.ExecutionResult{Success: true, Message: "done"}, now)
		require.NoError(t, err)

		finished, err := repo.ApplyTransition(ctx, job.ID, tr)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusActive, finished.Status)
		assert.Equal(t, 0, finished.ErrorCount)
		require.NotNil(t, finished.LastRunAt)
		require.NotNil(t, finished.LastResult)
		assert.True(t, finished.LastResult.Success)
		require.NotNil(t, finished.NextRunAt)
		assert.True(t, finished.NextRunAt.After(now))

		// Applying the same transition again conflicts: status is no longer running.
		_, err = repo.ApplyTransition(ctx, job.ID, tr)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))
	})
}

// TestJobRepo_Integration_PauseResume verifies paused jobs leave the due set
// and resuming recomputes the next run.
func TestJobRepo_Integration_PauseResume(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		job, err := repo.Upsert(ctx, testutil.NewJobRequest("job-pause").WithInterval(time.Minute).Build())
		require.NoError(t, err)

		ok, err := repo.SetPaused(ctx, job.ID, true)
		require.NoError(t, err)
		require.True(t, ok)

		paused, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPaused, paused.Status)
		// Pausing keeps the stale next_run_at; it is recomputed on resume.
		assert.Equal(t, job.NextRunAt.UTC(), paused.NextRunAt.UTC())

		due, err := repo.FindDue(ctx, time.Now().UTC().Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, due, "paused jobs are never due")

		ok, err = repo.SetPaused(ctx, job.ID, false)
		require.NoError(t, err)
		require.True(t, ok)

		resumed, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusActive, resumed.Status)
		assert.True(t, resumed.NextRunAt.After(*paused.NextRunAt))

		// Pausing a job that is not idle reports no rows touched.
		_, err = repo.MarkRunning(ctx, job.ID, time.Now().UTC())
		require.NoError(t, err)
		ok, err = repo.SetPaused(ctx, job.ID, true)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestJobRepo_Integration_StaleRunning checks the reaper sweep query.
func TestJobRepo_Integration_StaleRunning(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		job, err := repo.Upsert(ctx, testutil.NewJobRequest("job-stale").Build())
		require.NoError(t, err)
		_, err = repo.MarkRunning(ctx, job.ID, time.Now().UTC())
		require.NoError(t, err)

		// Fresh running records are not stale.
		stale, err := repo.FindStaleRunning(ctx, time.Now().UTC().Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)

		// With a cutoff in the future every running record qualifies.
		stale, err = repo.FindStaleRunning(ctx, time.Now().UTC().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "job-stale", stale[0].ID)
	})
}

func TestJobRepo_Integration_Delete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		_, err := repo.Upsert(ctx, testutil.NewJobRequest("job-del").Build())
		require.NoError(t, err)

		deleted, err := repo.Delete(ctx, "job-del")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, "job-del")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}
