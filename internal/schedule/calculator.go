// Package schedule computes next-run times for job schedules.
//
// The calculator is pure and deterministic: identical (schedule, from)
// inputs always yield the identical result. Crash recovery depends on this;
// recomputing a next-run time after a restart must not drift.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/complyops/jobrunner/internal/domain/model"
)

// NextRun returns the next firing instant strictly after from. If from
// itself matches a firing instant exactly, the occurrence after it is
// returned; a job completing precisely on its boundary must not re-trigger
// immediately.
//
// Cron expressions without an embedded CRON_TZ zone are evaluated in UTC.
func NextRun(spec model.Schedule, from time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, err
	}

	if spec.Kind() == model.ScheduleKindCron {
		return nextCron(spec.Cron, from)
	}
	return nextInterval(spec.Every, spec.Anchor, from), nil
}

func nextCron(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		// Validate catches this first; kept for direct callers.
		return time.Time{}, fmt.Errorf("%w: %v", model.ErrInvalidSchedule, err)
	}

	// ParseStandard applies the local zone when the expression carries no
	// CRON_TZ; pin the reference to UTC so results do not depend on the
	// host's zone database configuration.
	next := sched.Next(from.In(time.UTC))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q has no future occurrence", model.ErrInvalidSchedule, expr)
	}
	return next, nil
}

// nextInterval returns the smallest anchor-aligned instant strictly after
// from. A nil anchor aligns to the Unix epoch.
func nextInterval(every time.Duration, anchor *time.Time, from time.Time) time.Time {
	base := time.Unix(0, 0).UTC()
	if anchor != nil {
		base = anchor.UTC()
	}

	if from.Before(base) {
		return base
	}

	elapsed := from.Sub(base)
	steps := elapsed/every + 1
	return base.Add(steps * every)
}
