package testutil

import (
	"time"

	"github.com/complyops/jobrunner/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building UpsertJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.UpsertJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest(id string) *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.UpsertJobRequest{
			ID:       id,
			Tenant:   "acme",
			JobType:  "riskSnapshot",
			Schedule: model.IntervalSchedule(time.Hour, nil),
		},
	}
}

// WithTenant sets the owning tenant.
func (b *JobRequestBuilder) WithTenant(tenant string) *JobRequestBuilder {
	b.req.Tenant = tenant
	return b
}

// WithType sets the handler type.
func (b *JobRequestBuilder) WithType(jobType string) *JobRequestBuilder {
	b.req.JobType = jobType
	return b
}

// WithSchedule sets the schedule.
func (b *JobRequestBuilder) WithSchedule(s model.Schedule) *JobRequestBuilder {
	b.req.Schedule = s
	return b
}

// WithCron sets a cron schedule from its expression.
func (b *JobRequestBuilder) WithCron(expr string) *JobRequestBuilder {
	b.req.Schedule = model.CronSchedule(expr)
	return b
}

// WithInterval sets an interval schedule without an anchor.
func (b *JobRequestBuilder) WithInterval(every time.Duration) *JobRequestBuilder {
	b.req.Schedule = model.IntervalSchedule(every, nil)
	return b
}

// WithMaxRunDuration sets a per-job run budget override.
func (b *JobRequestBuilder) WithMaxRunDuration(d time.Duration) *JobRequestBuilder {
	b.req.MaxRunDuration = d
	return b
}

// WithAnchoredInterval sets an interval schedule aligned to the anchor.
func (b *JobRequestBuilder) WithAnchoredInterval(every time.Duration, anchor time.Time) *JobRequestBuilder {
	b.req.Schedule = model.IntervalSchedule(every, &anchor)
	return b
}

// Build returns the constructed UpsertJobRequest.
func (b *JobRequestBuilder) Build() *model.UpsertJobRequest {
	return b.req
}
