package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/complyops/jobrunner/config"
	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/data"
	"github.com/complyops/jobrunner/internal/domain/model"
	"github.com/complyops/jobrunner/internal/observability/notify"
)

// JobTypeDigestNotify is the registry key for the failure digest handler.
const JobTypeDigestNotify = "digestNotify"

// DigestNotifyOptions configures the failure digest handler.
type DigestNotifyOptions struct {
	Store        core.JobStore
	Sink         notify.Sink
	Config       config.DigestNotifyConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// DigestNotifyHandler sweeps the job table for definitions with accumulated
// failures and pushes a warning per failing job through the notification
// sink. It catches failures that slipped past per-run notifications, for
// example jobs that keep failing while the notification webhook was down.
type DigestNotifyHandler struct {
	store         core.JobStore
	sink          notify.Sink
	window        time.Duration
	minErrorCount int
	timeProvider  data.TimeProvider
	logger        *slog.Logger
}

// NewDigestNotifyHandler constructs a failure digest handler.
func NewDigestNotifyHandler(opts DigestNotifyOptions) (*DigestNotifyHandler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("notification sink is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	window := opts.Config.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	minErrors := opts.Config.MinErrorCount
	if minErrors < 1 {
		minErrors = 1
	}

	return &DigestNotifyHandler{
		store:         opts.Store,
		sink:          opts.Sink,
		window:        window,
		minErrorCount: minErrors,
		timeProvider:  tp,
		logger:        logger.With("component", "digest_notify_handler"),
	}, nil
}

// Execute lists the tenant's jobs and notifies on every definition whose
// consecutive failure count meets the threshold and whose last run falls
// inside the digest window. Sink errors fail the run so the digest retries
// on its next schedule.
func (h *DigestNotifyHandler) Execute(ctx context.Context, job model.JobDefinition) (model.ExecutionResult, error) {
	jobs, err := h.store.List(ctx, job.Tenant)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("list jobs for digest: %w", err)
	}

	now := h.timeProvider.Now()
	windowStart := now.Add(-h.window)

	notified := 0
	for _, j := range jobs {
		if j.ErrorCount < h.minErrorCount {
			continue
		}
		if j.LastRunAt == nil || j.LastRunAt.Before(windowStart) {
			continue
		}

		payload := notify.JobFailurePayload{
			JobID:      j.ID,
			JobType:    j.JobType,
			Tenant:     j.Tenant,
			Outcome:    notify.OutcomeFailed,
			Error:      lastResultMessage(j),
			ErrorCount: j.ErrorCount,
			Severity:   notify.SeverityWarning,
			OccurredAt: now,
			Metadata: map[string]string{
				"digest_job":  job.ID,
				"error_count": strconv.Itoa(j.ErrorCount),
			},
		}
		if sendErr := h.sink.SendJobFailure(ctx, payload); sendErr != nil {
			return model.ExecutionResult{}, fmt.Errorf("send digest entry for %q: %w", j.ID, sendErr)
		}
		notified++
	}

	h.logger.InfoContext(ctx, "failure digest complete",
		"tenant", job.Tenant,
		"scanned", len(jobs),
		"notified", notified,
	)

	return model.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("notified %d failing jobs of %d scanned", notified, len(jobs)),
	}, nil
}

func lastResultMessage(j model.JobDefinition) string {
	if j.LastResult != nil && j.LastResult.Message != "" {
		return j.LastResult.Message
	}
	return "repeated run failures"
}
