// Package handlers provides the built-in job handlers shipped with the
// runner: compliance risk snapshots, regulatory feed polling, and failure
// digest notifications. Deployments register additional handler types at
// startup through the registry.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/complyops/jobrunner/config"
	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/data"
	"github.com/complyops/jobrunner/internal/domain/model"
)

// JobTypeRiskSnapshot is the registry key for the risk snapshot handler.
const JobTypeRiskSnapshot = "riskSnapshot"

// RiskSnapshotOptions configures the risk snapshot handler.
type RiskSnapshotOptions struct {
	Store        core.JobStore
	Config       config.RiskSnapshotConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// RiskSnapshotHandler aggregates the health of a tenant's scheduled jobs
// into a compliance snapshot. The snapshot is recorded as the run's result
// detail so dashboards can read it straight off the job definition.
type RiskSnapshotHandler struct {
	store        core.JobStore
	maxResultAge time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// riskSnapshot is the aggregate emitted as the execution result detail.
type riskSnapshot struct {
	Tenant      string         `json:"tenant"`
	GeneratedAt time.Time      `json:"generated_at"`
	TotalJobs   int            `json:"total_jobs"`
	ByStatus    map[string]int `json:"by_status"`
	Failing     []string       `json:"failing,omitempty"`
	Stale       []string       `json:"stale,omitempty"`
}

// NewRiskSnapshotHandler constructs a risk snapshot handler.
func NewRiskSnapshotHandler(opts RiskSnapshotOptions) (*RiskSnapshotHandler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxAge := opts.Config.MaxResultAge
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}

	return &RiskSnapshotHandler{
		store:        opts.Store,
		maxResultAge: maxAge,
		timeProvider: tp,
		logger:       logger.With("component", "risk_snapshot_handler"),
	}, nil
}

// Execute builds the snapshot for the triggering job's tenant. A job with an
// empty tenant snapshots the whole deployment.
func (h *RiskSnapshotHandler) Execute(ctx context.Context, job model.JobDefinition) (model.ExecutionResult, error) {
	jobs, err := h.store.List(ctx, job.Tenant)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("list jobs for snapshot: %w", err)
	}

	now := h.timeProvider.Now()
	staleBefore := now.Add(-h.maxResultAge)

	snapshot := riskSnapshot{
		Tenant:      job.Tenant,
		GeneratedAt: now,
		ByStatus:    make(map[string]int),
	}

	for _, j := range jobs {
		if j.ID == job.ID {
			// The snapshot job itself is mid-run; counting it would skew
			// the running total on every snapshot.
			continue
		}
		snapshot.TotalJobs++
		snapshot.ByStatus[string(j.Status)]++

		if j.ErrorCount > 0 {
			snapshot.Failing = append(snapshot.Failing, j.ID)
		}
		if j.Status != model.JobStatusPaused && (j.LastRunAt == nil || j.LastRunAt.Before(staleBefore)) {
			snapshot.Stale = append(snapshot.Stale, j.ID)
		}
	}

	detail, err := json.Marshal(snapshot)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("encode snapshot: %w", err)
	}

	h.logger.InfoContext(ctx, "risk snapshot generated",
		"tenant", job.Tenant,
		"total_jobs", snapshot.TotalJobs,
		"failing", len(snapshot.Failing),
		"stale", len(snapshot.Stale),
	)

	return model.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("snapshot of %d jobs: %d failing, %d stale", snapshot.TotalJobs, len(snapshot.Failing), len(snapshot.Stale)),
		Detail:  detail,
	}, nil
}
