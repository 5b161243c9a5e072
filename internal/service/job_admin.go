package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/domain/model"
)

// JobAdminServiceOptions groups dependencies for JobAdminService.
type JobAdminServiceOptions struct {
	Store  core.JobStore      // Required: job definition store
	Admin  core.JobAdminStore // Required: admin operations store
	Logger *slog.Logger       // Optional: structured logger
}

// JobAdminService exposes the operator surface: definition management,
// pause and resume. Execution-side operations live on RunnerService.
type JobAdminService struct {
	store  core.JobStore
	admin  core.JobAdminStore
	logger *slog.Logger
}

// NewJobAdminService creates a new JobAdminService with the given dependencies.
func NewJobAdminService(opts JobAdminServiceOptions) (*JobAdminService, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Admin == nil {
		return nil, errors.New("job admin store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &JobAdminService{
		store:  opts.Store,
		admin:  opts.Admin,
		logger: opts.Logger.With("component", "job_admin_service"),
	}, nil
}

// Get returns a single job definition by id.
func (s *JobAdminService) Get(ctx context.Context, id string) (*model.JobDefinition, error) {
	return s.store.Get(ctx, id)
}

// List returns job definitions, optionally filtered by tenant.
func (s *JobAdminService) List(ctx context.Context, tenant string) ([]model.JobDefinition, error) {
	return s.store.List(ctx, tenant)
}

// Upsert creates or updates a job definition.
func (s *JobAdminService) Upsert(ctx context.Context, req *model.UpsertJobRequest) (*model.JobDefinition, error) {
	job, err := s.admin.Upsert(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "job definition upserted",
		"job_id", job.ID,
		"job_type", job.JobType,
		"schedule", job.Schedule.String(),
		"next_run_at", job.NextRunAt,
	)
	return job, nil
}

// Pause excludes the job from automatic scheduling. Manual triggers stay
// allowed. Pausing a running job is rejected; let the run finish first.
func (s *JobAdminService) Pause(ctx context.Context, id string) error {
	ok, err := s.admin.SetPaused(ctx, id, true)
	if err != nil {
		return err
	}
	if !ok {
		return s.explainPauseFailure(ctx, id, "pause")
	}

	s.logger.InfoContext(ctx, "job paused", "job_id", id)
	return nil
}

// Resume puts a paused job back on schedule with a freshly computed next
// run time.
func (s *JobAdminService) Resume(ctx context.Context, id string) error {
	ok, err := s.admin.SetPaused(ctx, id, false)
	if err != nil {
		return err
	}
	if !ok {
		return s.explainPauseFailure(ctx, id, "resume")
	}

	s.logger.InfoContext(ctx, "job resumed", "job_id", id)
	return nil
}

// explainPauseFailure turns a no-row pause/resume into a specific error.
func (s *JobAdminService) explainPauseFailure(ctx context.Context, id, op string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("cannot %s job %s in status %q", op, id, job.Status)
}

// Delete removes a job definition.
func (s *JobAdminService) Delete(ctx context.Context, id string) error {
	ok, err := s.admin.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, id)
	}

	s.logger.InfoContext(ctx, "job definition deleted", "job_id", id)
	return nil
}
