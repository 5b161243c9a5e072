// Package devseed populates a development database with sample job
// definitions so the runner has something to execute out of the box.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/complyops/jobrunner/internal/data"
	"github.com/complyops/jobrunner/internal/domain/model"
	"github.com/complyops/jobrunner/internal/handlers"
	"github.com/complyops/jobrunner/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB    *sql.DB
	admin *service.JobAdminService
}

// NewServices constructs the admin service used for seeding against the provided DB.
func NewServices(db *sql.DB) (Services, error) {
	jobRepo := data.NewJobRepo(db)
	admin, err := service.NewJobAdminService(service.JobAdminServiceOptions{
		Store: jobRepo,
		Admin: jobRepo,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build admin service: %w", err)
	}
	return Services{DB: db, admin: admin}, nil
}

// Run upserts the sample job definitions. Upsert is idempotent, so re-running
// the seeder refreshes schedules without duplicating jobs.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	log := logger
	if log == nil {
		log = slog.Default()
	}

	failures := 0
	for _, req := range sampleJobs() {
		job, err := svcs.admin.Upsert(ctx, req)
		if err != nil {
			failures++
			log.ErrorContext(ctx, "seed job failed", "job_id", req.ID, "error", err)
			continue
		}
		log.InfoContext(ctx, "seeded job",
			"job_id", job.ID,
			"job_type", job.JobType,
			"schedule", job.Schedule.String(),
		)
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func sampleJobs() []*model.UpsertJobRequest {
	return []*model.UpsertJobRequest{
		{
			ID:       "risk-snapshot-acme",
			Tenant:   "acme",
			JobType:  handlers.JobTypeRiskSnapshot,
			Schedule: model.IntervalSchedule(15*time.Minute, nil),
		},
		{
			ID:       "digest-notify-acme",
			Tenant:   "acme",
			JobType:  handlers.JobTypeDigestNotify,
			Schedule: model.CronSchedule("0 8 * * *"),
		},
		{
			ID:       "feed-check-sanctions",
			Tenant:   "acme",
			JobType:  handlers.JobTypeFeedCheck,
			Schedule: model.IntervalSchedule(time.Hour, nil),
			// Feed polls are quick; a tight budget frees the lock fast when
			// the upstream hangs.
			MaxRunDuration: 2 * time.Minute,
		},
	}
}
