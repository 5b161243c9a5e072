package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/complyops/jobrunner/internal/bootstrap"
	"github.com/complyops/jobrunner/internal/data"
	"github.com/complyops/jobrunner/internal/domain/model"
	"github.com/complyops/jobrunner/internal/service"
	"github.com/complyops/jobrunner/internal/util"
)

type jobIDOptions struct {
	ID      string
	Timeout time.Duration
}

func parseJobIDFlags(name string, args []string) (jobIDOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := jobIDOptions{Timeout: defaultCommandTimeout}
	fs.StringVar(&opts.ID, "id", "", "Job definition id (required)")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the command to complete")

	if err := fs.Parse(args); err != nil {
		return jobIDOptions{}, err
	}
	if opts.ID == "" {
		return jobIDOptions{}, errors.New("--id is required")
	}
	if opts.Timeout <= 0 {
		return jobIDOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

// withAdmin wires a JobAdminService over a short-lived database connection.
func withAdmin(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *service.JobAdminService) error,
) error {
	return withDatabase(cmdCtx, timeout, func(ctx context.Context, db *sql.DB) error {
		jobRepo := data.NewJobRepo(db)
		admin, err := service.NewJobAdminService(service.JobAdminServiceOptions{
			Store:  jobRepo,
			Admin:  jobRepo,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return fmt.Errorf("build admin service: %w", err)
		}
		return f(ctx, admin)
	})
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var tenant string
	timeout := defaultCommandTimeout
	fs.StringVar(&tenant, "tenant", "", "Only list jobs for this tenant (default: all tenants)")
	fs.DurationVar(&timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the command to complete")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return withAdmin(cmdCtx, timeout, func(ctx context.Context, admin *service.JobAdminService) error {
		jobs, err := admin.List(ctx, tenant)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		return printJobTable(jobs)
	})
}

func printJobTable(jobs []model.JobDefinition) error {
	if len(jobs) == 0 {
		return writef(os.Stdout, "No job definitions found\n")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(w, "ID\tTENANT\tTYPE\tSTATUS\tERRORS\tSCHEDULE\tLAST RUN\tNEXT RUN\n"); err != nil {
		return err
	}
	for _, j := range jobs {
		if err := writef(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			j.ID,
			j.Tenant,
			j.JobType,
			j.Status,
			j.ErrorCount,
			j.Schedule.String(),
			util.FormatTime(j.LastRunAt),
			util.FormatTime(j.NextRunAt),
		); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}
	return nil
}

func runGetJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobIDFlags("get-job", args)
	if err != nil {
		return err
	}

	return withAdmin(cmdCtx, opts.Timeout, func(ctx context.Context, admin *service.JobAdminService) error {
		job, getErr := admin.Get(ctx, opts.ID)
		if getErr != nil {
			return fmt.Errorf("get job: %w", getErr)
		}
		return printJobDetail(job)
	})
}

func printJobDetail(job *model.JobDefinition) error {
	if err := writef(os.Stdout, "ID:           %s\n", job.ID); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Tenant:       %s\n", job.Tenant); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Type:         %s\n", job.JobType); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Status:       %s\n", job.Status); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Schedule:     %s\n", job.Schedule.String()); err != nil {
		return err
	}
	if job.MaxRunDuration > 0 {
		if err := writef(os.Stdout, "Run budget:   %s\n", job.MaxRunDuration); err != nil {
			return err
		}
	}
	if err := writef(os.Stdout, "Error count:  %d\n", job.ErrorCount); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Last run:     %s\n", util.FormatTime(job.LastRunAt)); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Next run:     %s\n", util.FormatTime(job.NextRunAt)); err != nil {
		return err
	}

	if job.LastResult == nil {
		return writef(os.Stdout, "Last result:  -\n")
	}

	status := "ok"
	if !job.LastResult.Success {
		status = "failed"
	}
	if err := writef(os.Stdout, "Last result:  %s: %s\n", status, job.LastResult.Message); err != nil {
		return err
	}
	if len(job.LastResult.Detail) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(job.LastResult.Detail), "  ", "  ")
		if err != nil {
			return fmt.Errorf("format result detail: %w", err)
		}
		return writef(os.Stdout, "Detail:\n  %s\n", pretty)
	}
	return nil
}

func runUpsertJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("upsert-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		id       string
		tenant   string
		jobType  string
		schedule string
		maxRun   time.Duration
	)
	timeout := defaultCommandTimeout
	fs.StringVar(&id, "id", "", "Job definition id (required)")
	fs.StringVar(&tenant, "tenant", "", "Owning tenant")
	fs.StringVar(&jobType, "type", "", "Handler type, e.g. riskSnapshot (required on create, immutable)")
	fs.StringVar(&schedule, "schedule", "", `Schedule, cron ("0 8 * * *") or interval ("every 15m") (required)`)
	fs.DurationVar(&maxRun, "max-run-duration", 0, "Per-job run budget override (0 uses the deployment default)")
	fs.DurationVar(&timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the command to complete")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if id == "" {
		return errors.New("--id is required")
	}
	if schedule == "" {
		return errors.New("--schedule is required")
	}

	parsed, err := model.ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}

	return withAdmin(cmdCtx, timeout, func(ctx context.Context, admin *service.JobAdminService) error {
		job, upsertErr := admin.Upsert(ctx, &model.UpsertJobRequest{
			ID:             id,
			Tenant:         tenant,
			JobType:        jobType,
			Schedule:       parsed,
			MaxRunDuration: maxRun,
		})
		if upsertErr != nil {
			return fmt.Errorf("upsert job: %w", upsertErr)
		}
		return writef(os.Stdout, "Job %s saved; next run %s\n", job.ID, util.FormatTime(job.NextRunAt))
	})
}

func runPauseJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobIDFlags("pause-job", args)
	if err != nil {
		return err
	}
	return withAdmin(cmdCtx, opts.Timeout, func(ctx context.Context, admin *service.JobAdminService) error {
		if pauseErr := admin.Pause(ctx, opts.ID); pauseErr != nil {
			return pauseErr
		}
		return writef(os.Stdout, "Job %s paused\n", opts.ID)
	})
}

func runResumeJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobIDFlags("resume-job", args)
	if err != nil {
		return err
	}
	return withAdmin(cmdCtx, opts.Timeout, func(ctx context.Context, admin *service.JobAdminService) error {
		if resumeErr := admin.Resume(ctx, opts.ID); resumeErr != nil {
			return resumeErr
		}
		return writef(os.Stdout, "Job %s resumed\n", opts.ID)
	})
}

func runDeleteJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobIDFlags("delete-job", args)
	if err != nil {
		return err
	}
	return withAdmin(cmdCtx, opts.Timeout, func(ctx context.Context, admin *service.JobAdminService) error {
		if deleteErr := admin.Delete(ctx, opts.ID); deleteErr != nil {
			return deleteErr
		}
		return writef(os.Stdout, "Job %s deleted\n", opts.ID)
	})
}

func runTriggerJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("trigger-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var id string
	timeout := cmdCtx.Config.Runner.LockTTL() + defaultCommandTimeout
	fs.StringVar(&id, "id", "", "Job definition id (required)")
	fs.DurationVar(&timeout, "timeout", timeout, "Maximum duration to wait for the run to complete")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if id == "" {
		return errors.New("--id is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, timeout)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, redisClient); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	job, outcome, err := services.Runner.TriggerJob(ctx, id)
	elapsed := time.Since(start)

	if err != nil {
		return fmt.Errorf("trigger job: %w", err)
	}

	if err = writef(os.Stdout, "Job %s: %s in %s\n", id, outcome, util.FormatRunDuration(elapsed)); err != nil {
		return err
	}
	if job != nil && job.LastResult != nil {
		status := "ok"
		if !job.LastResult.Success {
			status = "failed"
		}
		return writef(os.Stdout, "Result: %s: %s\n", status, job.LastResult.Message)
	}
	return nil
}
