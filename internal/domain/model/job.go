// Package model defines the core data types used throughout the jobrunner system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job definition.
type JobStatus string

const (
	// JobStatusActive indicates a job is idle, healthy, and eligible for its next trigger.
	JobStatusActive JobStatus = "active"
	// JobStatusRunning indicates an execution is currently in progress.
	JobStatusRunning JobStatus = "running"
	// JobStatusFailed indicates the most recent execution failed; the job remains eligible for its next trigger.
	JobStatusFailed JobStatus = "failed"
	// JobStatusPaused indicates the job is excluded from automatic scheduling but may still be triggered manually.
	JobStatusPaused JobStatus = "paused"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusActive || s == JobStatusRunning || s == JobStatusFailed ||
		s == JobStatusPaused
}

// Idle reports whether the status allows a new execution to begin.
func (s JobStatus) Idle() bool {
	return s == JobStatusActive || s == JobStatusFailed || s == JobStatusPaused
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus to allow env parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Sentinel errors surfaced by the runner core. Contention errors (ErrJobBusy,
// ErrJobLocked) are non-fatal "try later" signals, not application faults.
var (
	// ErrJobNotFound is returned when a job definition does not exist.
	ErrJobNotFound = errors.New("job definition not found")
	// ErrUnknownJobType is returned when no handler is registered for a job type.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrInvalidSchedule is returned when a schedule specification is malformed.
	ErrInvalidSchedule = errors.New("invalid schedule specification")
	// ErrJobBusy is returned when the local status check observes an execution in progress.
	ErrJobBusy = errors.New("job is busy")
	// ErrJobLocked is returned when another execution holds the job's lock.
	ErrJobLocked = errors.New("job is locked by another execution")
	// ErrAlreadyRunning indicates a begin-run transition found the job already running.
	// Seeing this implies a lock manager defect; callers log it as a severity-high anomaly.
	ErrAlreadyRunning = errors.New("job is already running")
)

// ExecutionResult is the outcome a handler reports for one attempt. It is
// copied into the job's LastResult and never retained beyond that.
type ExecutionResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Failure builds a failing ExecutionResult from an error.
func Failure(err error) ExecutionResult {
	msg := "handler failed"
	if err != nil {
		msg = err.Error()
	}
	return ExecutionResult{Success: false, Message: msg}
}

// JobDefinition represents one schedulable unit of background work.
//
// Invariant: at most one execution of a given ID is running at any instant,
// system-wide. The lock manager guarantees it; Status is a local mirror.
type JobDefinition struct {
	ID       string    `json:"id"       db:"id"`
	Tenant   string    `json:"tenant"   db:"tenant"`
	JobType  string    `json:"job_type" db:"job_type"`
	Schedule Schedule  `json:"schedule" db:"-"`
	Status   JobStatus `json:"status"   db:"status"`

	// MaxRunDuration overrides the deployment-wide run budget for this job.
	// Zero means the default applies.
	MaxRunDuration time.Duration `json:"max_run_duration,omitempty" db:"-"`

	LastRunAt  *time.Time       `json:"last_run_at,omitempty"  db:"last_run_at"`
	NextRunAt  *time.Time       `json:"next_run_at,omitempty"  db:"next_run_at"`
	LastResult *ExecutionResult `json:"last_result,omitempty"  db:"-"`
	ErrorCount int              `json:"error_count"            db:"error_count"`
	CreatedAt  time.Time        `json:"created_at"             db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"             db:"updated_at"`
}

// UpsertJobRequest represents a request to create or update a job definition.
// JobType is immutable after creation; updates leave it untouched.
type UpsertJobRequest struct {
	ID       string   `json:"id"`
	Tenant   string   `json:"tenant"`
	JobType  string   `json:"job_type"`
	Schedule Schedule `json:"schedule"`

	// MaxRunDuration sets a per-job run budget; zero keeps the deployment default.
	MaxRunDuration time.Duration `json:"max_run_duration,omitempty"`
}

// Validate validates the UpsertJobRequest fields.
func (r *UpsertJobRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(r.JobType) == "" {
		return errors.New("job type is required")
	}
	if r.MaxRunDuration < 0 {
		return errors.New("max run duration cannot be negative")
	}
	if err := r.Schedule.Validate(); err != nil {
		return err
	}
	return nil
}

// TriggerOutcome describes how one trigger attempt concluded.
type TriggerOutcome string

const (
	// TriggerOutcomeCompleted means the handler ran and the result was recorded (success or failure).
	TriggerOutcomeCompleted TriggerOutcome = "completed"
	// TriggerOutcomeBusy means the fast local status check rejected the attempt.
	TriggerOutcomeBusy TriggerOutcome = "busy"
	// TriggerOutcomeLocked means another execution held the lock.
	TriggerOutcomeLocked TriggerOutcome = "locked"
	// TriggerOutcomeAborted means the attempt was recovered via an abort transition.
	TriggerOutcomeAborted TriggerOutcome = "aborted"
	// TriggerOutcomeError means a configuration or infrastructure error prevented the attempt.
	TriggerOutcomeError TriggerOutcome = "error"
)
