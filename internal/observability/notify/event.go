package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Outcome constants for failure notifications.
const (
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// JobFailurePayload captures the canonical data emitted when a scheduled
// job run fails or is aborted.
type JobFailurePayload struct {
	JobID      string
	JobType    string
	Tenant     string
	Outcome    string
	Error      string
	ErrorClass string
	ErrorCount int
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
