// Package job holds the pure state-machine rules for job definition
// lifecycles. Nothing here touches storage; the data layer applies the
// computed transitions with conditional single-row updates.
package job

import (
	"fmt"
	"time"

	"github.com/complyops/jobrunner/internal/domain/model"
	"github.com/complyops/jobrunner/internal/schedule"
)

// Transition is the set of field changes one lifecycle step produces.
// The data layer persists it only if the job's current status still equals
// From, keeping the update atomic per job.
type Transition struct {
	From       model.JobStatus
	To         model.JobStatus
	LastRunAt  time.Time
	LastResult model.ExecutionResult
	ErrorCount int
	NextRunAt  time.Time
}

// CheckBeginRun validates that an execution may start for the job.
// Allowed from active, failed, or paused (manual trigger); fails with
// ErrAlreadyRunning when an execution is already in progress. The lock
// manager makes that unreachable in practice, so hitting it signals a
// lock fault rather than normal contention.
func CheckBeginRun(j model.JobDefinition) error {
	if j.Status == model.JobStatusRunning {
		return fmt.Errorf("%w: job %s", model.ErrAlreadyRunning, j.ID)
	}
	if !j.Status.Idle() {
		return fmt.Errorf("job %s in unexpected status %q", j.ID, j.Status)
	}
	return nil
}

// CompleteRun computes the transition out of RUNNING for a finished
// execution. errorCount resets to zero on success and increments on
// failure; nextRunAt always advances, success or not, so a failing job is
// rescheduled rather than silently abandoned.
func CompleteRun(j model.JobDefinition, result model.ExecutionResult, now time.Time) (Transition, error) {
	if j.Status != model.JobStatusRunning {
		return Transition{}, fmt.Errorf("complete run: job %s is %q, not running", j.ID, j.Status)
	}

	next, err := schedule.NextRun(j.Schedule, now)
	if err != nil {
		return Transition{}, fmt.Errorf("compute next run for job %s: %w", j.ID, err)
	}

	t := Transition{
		From:       model.JobStatusRunning,
		LastRunAt:  now,
		LastResult: result,
		NextRunAt:  next,
	}
	if result.Success {
		t.To = model.JobStatusActive
		t.ErrorCount = 0
	} else {
		t.To = model.JobStatusFailed
		t.ErrorCount = j.ErrorCount + 1
	}
	return t, nil
}

// AbortRun computes the recovery transition used when an execution cannot
// proceed safely: the lock could not be confirmed held, the process is
// shutting down, or an unexpected failure struck between begin and
// complete. The job lands in FAILED with a synthetic result so it is never
// left RUNNING in persisted state.
func AbortRun(j model.JobDefinition, reason string, now time.Time) (Transition, error) {
	if reason == "" {
		reason = "execution aborted"
	}
	synthetic := model.ExecutionResult{
		Success: false,
		Message: fmt.Sprintf("aborted: %s", reason),
	}
	return CompleteRun(j, synthetic, now)
}
