// Package service provides the runtime services of the job runner: the
// trigger orchestrator and the crash-recovery reaper.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/complyops/jobrunner/config"
	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/data"
	domainjob "github.com/complyops/jobrunner/internal/domain/job"
	"github.com/complyops/jobrunner/internal/domain/model"
	"github.com/complyops/jobrunner/internal/observability/metrics"
	"github.com/complyops/jobrunner/internal/observability/notify"
	"github.com/complyops/jobrunner/internal/observability/statsd"
	"github.com/complyops/jobrunner/internal/registry"
	"github.com/complyops/jobrunner/internal/service/failurenotifier"
)

// releaseTimeout bounds the lock release write after a run finishes, since
// the run's own context may already be cancelled by then.
const releaseTimeout = 10 * time.Second

// RunnerServiceOptions groups dependencies for RunnerService.
type RunnerServiceOptions struct {
	Store        core.JobStore            // Required: job definition store
	Locks        core.LockManager         // Required: execution lock manager
	Registry     *registry.Registry       // Required: job type handler registry
	Config       config.RunnerConfig      // Required: runner configuration
	TimeProvider data.TimeProvider        // Optional: defaults to real time
	Logger       *slog.Logger             // Optional: structured logger
	Metrics      statsd.Sink              // Optional: metrics sink (StatsD-compatible)
	Notifier     *failurenotifier.Service // Optional: failure notification fan-out
}

// RunnerService orchestrates job executions. One TriggerJob call takes a
// job through the full run protocol: status check, lock acquisition,
// begin-run transition, handler execution, complete-run transition, lock
// release. Safe to run in multiple replicas; the lock manager arbitrates.
type RunnerService struct {
	store        core.JobStore
	locks        core.LockManager
	registry     *registry.Registry
	cfg          config.RunnerConfig
	budget       *domainjob.BudgetPolicy
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
	notifier     *failurenotifier.Service
}

// NewRunnerService creates a new RunnerService with the given dependencies.
func NewRunnerService(opts RunnerServiceOptions) (*RunnerService, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Locks == nil {
		return nil, errors.New("lock manager is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("handler registry is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	budget, err := domainjob.NewBudgetPolicy(opts.Config.MaxRunDuration)
	if err != nil {
		return nil, fmt.Errorf("runner budget: %w", err)
	}

	return &RunnerService{
		store:        opts.Store,
		locks:        opts.Locks,
		registry:     opts.Registry,
		cfg:          opts.Config,
		budget:       budget,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger.With("component", "runner_service"),
		metrics:      opts.Metrics,
		notifier:     opts.Notifier,
	}, nil
}

// TriggerJob attempts one execution of the job. Contention outcomes (busy,
// locked) return the matching sentinel error; callers decide whether that
// is worth surfacing. The returned definition reflects the job after the
// attempt, where one was loaded.
func (s *RunnerService) TriggerJob(ctx context.Context, id string) (*model.JobDefinition, model.TriggerOutcome, error) {
	start := s.timeProvider.Now()

	job, outcome, err := s.trigger(ctx, id)

	jobType := ""
	if job != nil {
		jobType = job.JobType
	}
	success := job != nil && job.LastResult != nil && job.LastResult.Success &&
		outcome == model.TriggerOutcomeCompleted
	metrics.EmitTrigger(s.metrics, metrics.TriggerMetric{
		JobType:  jobType,
		Outcome:  string(outcome),
		Success:  success,
		Duration: s.timeProvider.Now().Sub(start),
		Err:      err,
	})

	return job, outcome, err
}

func (s *RunnerService) trigger(ctx context.Context, id string) (*model.JobDefinition, model.TriggerOutcome, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, model.TriggerOutcomeError, err
	}

	// Fast local check before touching the lock backend. It cannot replace
	// the lock; two runners can pass it simultaneously.
	if job.Status == model.JobStatusRunning {
		return job, model.TriggerOutcomeBusy, fmt.Errorf("%w: %s", model.ErrJobBusy, id)
	}

	handler, err := s.registry.Resolve(job.JobType)
	if err != nil {
		return job, model.TriggerOutcomeError, err
	}

	budget := s.budget.Resolve(job.MaxRunDuration)
	switch {
	case budget.Clamped():
		s.logger.WarnContext(ctx, "job run budget below minimum, clamped",
			"job_id", id,
			"requested", budget.Requested,
			"budget", budget.TTL,
		)
	case !budget.UsedDefault():
		s.logger.DebugContext(ctx, "using per-job run budget",
			"job_id", id,
			"budget", budget.TTL,
		)
	}

	lease, acquired, err := s.locks.Acquire(ctx, core.AcquireParams{
		JobID: id,
		TTL:   budget.TTL + s.cfg.LockGrace,
	})
	if err != nil {
		return job, model.TriggerOutcomeError, fmt.Errorf("acquire execution lock: %w", err)
	}
	if !acquired {
		return job, model.TriggerOutcomeLocked, fmt.Errorf("%w: %s", model.ErrJobLocked, id)
	}
	defer s.releaseLock(ctx, lease)

	return s.runLocked(ctx, runParams{
		job:     job,
		handler: handler,
		budget:  budget.TTL,
	})
}

type runParams struct {
	job     *model.JobDefinition
	handler registry.Handler
	budget  time.Duration
}

// runLocked performs the begin-execute-complete sequence. The caller holds
// the execution lock for the whole of it.
func (s *RunnerService) runLocked(ctx context.Context, p runParams) (*model.JobDefinition, model.TriggerOutcome, error) {
	if err := domainjob.CheckBeginRun(*p.job); err != nil {
		if errors.Is(err, model.ErrAlreadyRunning) {
			// We hold the lock, yet the persisted status says an execution
			// is in progress. Either a crashed run the reaper has not swept
			// yet, or a lock fault. Do not touch the record.
			s.logger.WarnContext(ctx, "job running while lock was free",
				"job_id", p.job.ID,
				"job_type", p.job.JobType,
			)
		}
		return p.job, model.TriggerOutcomeBusy, err
	}

	running, err := s.store.MarkRunning(ctx, p.job.ID, s.timeProvider.Now())
	if err != nil {
		return p.job, s.contentionOutcome(err), fmt.Errorf("begin run: %w", err)
	}

	execution := s.execute(ctx, p.handler, *running, p.budget)

	finished, outcome, err := s.finishRun(ctx, running, execution)
	if err != nil {
		return running, model.TriggerOutcomeError, err
	}

	s.logRunOutcome(ctx, finished, execution)
	s.notifyIfFailed(ctx, finished, outcome)

	return finished, outcome, nil
}

func (s *RunnerService) contentionOutcome(err error) model.TriggerOutcome {
	if errors.Is(err, model.ErrAlreadyRunning) {
		return model.TriggerOutcomeBusy
	}
	return model.TriggerOutcomeError
}

// executionOutcome carries the handler's result plus how it was obtained.
type executionOutcome struct {
	result  model.ExecutionResult
	aborted bool
	reason  string
	elapsed time.Duration
}

// execute runs the handler under the execution budget with panic
// containment. A handler that panics or outruns its budget yields an
// aborted outcome; a handler error yields a regular failing result.
func (s *RunnerService) execute(
	ctx context.Context,
	handler registry.Handler,
	job model.JobDefinition,
	budget time.Duration,
) executionOutcome {
	start := s.timeProvider.Now()

	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type handlerReturn struct {
		result model.ExecutionResult
		err    error
		panic  any
	}
	done := make(chan handlerReturn, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerReturn{panic: r}
			}
		}()
		result, err := handler.Execute(runCtx, job)
		done <- handlerReturn{result: result, err: err}
	}()

	select {
	case ret := <-done:
		elapsed := s.timeProvider.Now().Sub(start)
		if ret.panic != nil {
			return executionOutcome{
				aborted: true,
				reason:  fmt.Sprintf("handler panicked: %v", ret.panic),
				elapsed: elapsed,
			}
		}
		if ret.err != nil {
			return executionOutcome{result: model.Failure(ret.err), elapsed: elapsed}
		}
		return executionOutcome{result: ret.result, elapsed: elapsed}

	case <-runCtx.Done():
		// The handler goroutine may still be running; it holds only the
		// cancelled context and the buffered channel, so it cannot block
		// or write into this attempt's result.
		elapsed := s.timeProvider.Now().Sub(start)
		reason := fmt.Sprintf("execution exceeded budget %s", budget)
		if ctx.Err() != nil {
			reason = "runner shutting down"
		}
		return executionOutcome{aborted: true, reason: reason, elapsed: elapsed}
	}
}

// finishRun computes and persists the transition out of RUNNING.
func (s *RunnerService) finishRun(
	ctx context.Context,
	running *model.JobDefinition,
	execution executionOutcome,
) (*model.JobDefinition, model.TriggerOutcome, error) {
	now := s.timeProvider.Now()

	var (
		tr      domainjob.Transition
		outcome model.TriggerOutcome
		err     error
	)
	if execution.aborted {
		tr, err = domainjob.AbortRun(*running, execution.reason, now)
		outcome = model.TriggerOutcomeAborted
	} else {
		tr, err = domainjob.CompleteRun(*running, execution.result, now)
		outcome = model.TriggerOutcomeCompleted
	}
	if err != nil {
		// Completion must never leave the job RUNNING. The reaper will
		// recover this record if the write below cannot happen either.
		s.logger.ErrorContext(ctx, "failed to compute completion transition",
			"job_id", running.ID,
			"error", err,
		)
		return nil, outcome, err
	}

	// The completion write uses a context that survives caller
	// cancellation: the handler already ran, so the result must land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	finished, err := s.store.ApplyTransition(writeCtx, running.ID, tr)
	if err != nil {
		return nil, outcome, fmt.Errorf("record run completion: %w", err)
	}
	return finished, outcome, nil
}

// releaseLock returns the execution lock, on a context that survives the
// caller's cancellation. Release failures are logged, not propagated: the
// lease self-expires, so a stuck release costs at most the TTL.
func (s *RunnerService) releaseLock(ctx context.Context, lease *model.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.locks.Release(releaseCtx, lease); err != nil {
		s.logger.ErrorContext(ctx, "failed to release execution lock",
			"job_id", lease.JobID,
			"error", err,
		)
	}
}

func (s *RunnerService) logRunOutcome(ctx context.Context, job *model.JobDefinition, execution executionOutcome) {
	if job == nil {
		return
	}
	attrs := []any{
		"job_id", job.ID,
		"job_type", job.JobType,
		"status", job.Status,
		"elapsed", execution.elapsed,
		"error_count", job.ErrorCount,
	}
	switch {
	case execution.aborted:
		s.logger.WarnContext(ctx, "job run aborted", append(attrs, "reason", execution.reason)...)
	case job.Status == model.JobStatusFailed:
		s.logger.WarnContext(ctx, "job run failed", append(attrs, "message", execution.result.Message)...)
	default:
		s.logger.InfoContext(ctx, "job run completed", attrs...)
	}
}

func (s *RunnerService) notifyIfFailed(ctx context.Context, job *model.JobDefinition, outcome model.TriggerOutcome) {
	if s.notifier == nil || !s.notifier.Enabled() || job == nil {
		return
	}
	if job.Status != model.JobStatusFailed {
		return
	}

	payload := notify.JobFailurePayload{
		JobID:      job.ID,
		JobType:    job.JobType,
		Tenant:     job.Tenant,
		Outcome:    notify.OutcomeFailed,
		ErrorCount: job.ErrorCount,
		OccurredAt: s.timeProvider.Now(),
	}
	if outcome == model.TriggerOutcomeAborted {
		payload.Outcome = notify.OutcomeAborted
	}
	if job.LastResult != nil {
		payload.Error = job.LastResult.Message
	}

	s.notifier.NotifyJobFailure(ctx, payload)
}

// Tick runs one scheduling pass: find due jobs and trigger them, at most
// Concurrency at a time. Contention outcomes are expected under multiple
// replicas and are not errors. Returns the number of executions performed.
func (s *RunnerService) Tick(ctx context.Context, now time.Time) (int, error) {
	start := s.timeProvider.Now()

	due, err := s.store.FindDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due jobs: %w", err)
	}

	triggered := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	results := make([]model.TriggerOutcome, len(due))
	for i, job := range due {
		i, job := i, job
		g.Go(func() error {
			_, outcome, triggerErr := s.TriggerJob(gctx, job.ID)
			results[i] = outcome
			if triggerErr != nil && !isContention(triggerErr) {
				s.logger.ErrorContext(gctx, "trigger failed",
					"job_id", job.ID,
					"job_type", job.JobType,
					"outcome", outcome,
					"error", triggerErr,
				)
			}
			return nil
		})
	}
	// Worker funcs always return nil; Wait is for completion only.
	_ = g.Wait()

	for _, outcome := range results {
		if outcome == model.TriggerOutcomeCompleted || outcome == model.TriggerOutcomeAborted {
			triggered++
		}
	}

	metrics.EmitTick(s.metrics, len(due), triggered, s.timeProvider.Now().Sub(start))
	return triggered, nil
}

// isContention reports whether the error is an expected multi-replica
// contention signal rather than a fault.
func isContention(err error) bool {
	return errors.Is(err, model.ErrJobBusy) ||
		errors.Is(err, model.ErrJobLocked) ||
		errors.Is(err, model.ErrAlreadyRunning)
}

// Run starts the scheduling loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *RunnerService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting runner service",
		"tick_interval", s.cfg.TickInterval,
		"batch_size", s.cfg.BatchSize,
		"concurrency", s.cfg.Concurrency,
		"lock_backend", s.cfg.LockBackend,
		"default_run_budget", s.budget.Default(),
	)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "runner service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.Tick(ctx, s.timeProvider.Now()); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				s.logger.ErrorContext(ctx, "tick failed", "error", err)
			}
		}
	}
}
