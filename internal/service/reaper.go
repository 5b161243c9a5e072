package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/complyops/jobrunner/config"
	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/data"
	domainjob "github.com/complyops/jobrunner/internal/domain/job"
	"github.com/complyops/jobrunner/internal/domain/model"
	apperrors "github.com/complyops/jobrunner/internal/errors"
	"github.com/complyops/jobrunner/internal/observability/metrics"
	"github.com/complyops/jobrunner/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Store        core.JobStore       // Required: job definition store
	Stale        core.ReaperStore    // Required: stale-running sweep query
	LockPurger   core.LockPurger     // Optional: nil when the lock backend expires records natively
	Config       config.ReaperConfig // Required: reaper configuration
	TimeProvider data.TimeProvider   // Optional: defaults to real time
	Logger       *slog.Logger        // Optional: structured logger
	Metrics      statsd.Sink         // Optional: metrics sink (StatsD-compatible)
}

// ReaperService recovers jobs abandoned by crashed runners.
//
// A runner that dies mid-execution leaves its job persisted as RUNNING
// while its lock silently expires. The reaper finds such records once they
// have been untouched longer than the stale age and aborts them, putting
// the job back on schedule. It also purges expired lock rows on backends
// that keep them.
type ReaperService struct {
	store        core.JobStore
	stale        core.ReaperStore
	lockPurger   core.LockPurger
	cfg          config.ReaperConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Stale == nil {
		return nil, errors.New("reaper store is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &ReaperService{
		store:        opts.Store,
		stale:        opts.Stale,
		lockPurger:   opts.LockPurger,
		cfg:          opts.Config,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "reaper_service"),
		metrics:      opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service",
		"interval", s.cfg.Interval,
		"stale_running_age", s.cfg.StaleRunningAge,
	)

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Run a sweep immediately after jitter
	if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.ErrorContext(ctx, "initial sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				// Continue running despite errors
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.cfg.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// Sweep performs one recovery pass: abort stale RUNNING jobs, then purge
// expired lock records.
func (s *ReaperService) Sweep(ctx context.Context) error {
	start := s.timeProvider.Now()

	aborted, abortErr := s.abortStaleRunning(ctx)
	purged, purgeErr := s.purgeExpiredLocks(ctx)

	err := errors.Join(abortErr, purgeErr)
	metrics.EmitReaperSweep(s.metrics, aborted, purged, s.timeProvider.Now().Sub(start), err)

	if abortErr != nil && isContextCancellation(abortErr) &&
		(purgeErr == nil || isContextCancellation(purgeErr)) {
		return context.Canceled
	}
	if err != nil {
		return fmt.Errorf("reaper sweep: %w", err)
	}
	return nil
}

// abortStaleRunning recovers RUNNING jobs untouched since before the stale
// cutoff. Loops in batches until the sweep drains.
func (s *ReaperService) abortStaleRunning(ctx context.Context) (int64, error) {
	var total int64
	for {
		now := s.timeProvider.Now()
		cutoff := now.Add(-s.cfg.StaleRunningAge)

		stale, err := s.stale.FindStaleRunning(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("find stale running jobs: %w", err)
		}
		if len(stale) == 0 {
			return total, nil
		}

		for _, job := range stale {
			if abortErr := s.abortJob(ctx, job, now); abortErr != nil {
				if isContextCancellation(abortErr) {
					return total, abortErr
				}
				s.logger.ErrorContext(ctx, "failed to abort stale job",
					"job_id", job.ID,
					"error", abortErr,
				)
				continue
			}
			total++
		}

		if len(stale) < s.cfg.BatchSize {
			return total, nil
		}
		// Check context between batches
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *ReaperService) abortJob(ctx context.Context, job model.JobDefinition, now time.Time) error {
	tr, err := domainjob.AbortRun(job, "runner lost before completing", now)
	if err != nil {
		return err
	}

	// Conditional on status still being RUNNING; if the original runner
	// somehow finished in the meantime the update matches nothing, which
	// counts as a skip, not a failure.
	if _, err = s.store.ApplyTransition(ctx, job.ID, tr); err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeConflict {
			s.logger.InfoContext(ctx, "stale job resolved itself before abort", "job_id", job.ID)
			return nil
		}
		return err
	}

	s.logger.WarnContext(ctx, "recovered stale running job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"stale_since", job.UpdatedAt,
		"next_run_at", tr.NextRunAt,
	)
	return nil
}

func (s *ReaperService) purgeExpiredLocks(ctx context.Context) (int64, error) {
	if s.lockPurger == nil {
		return 0, nil
	}

	purged, err := s.lockPurger.PurgeExpiredLocks(ctx, s.timeProvider.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired locks: %w", err)
	}
	if purged > 0 {
		s.logger.InfoContext(ctx, "purged expired locks", "count", purged)
	}
	return purged, nil
}

// isContextCancellation reports whether the error chain is rooted in
// context cancellation or deadline expiry.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
