package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind identifies which schedule form a specification uses.
type ScheduleKind string

const (
	// ScheduleKindCron is a cron-style expression schedule.
	ScheduleKindCron ScheduleKind = "cron"
	// ScheduleKindInterval is a fixed-interval schedule with an optional anchor.
	ScheduleKindInterval ScheduleKind = "interval"
)

// Schedule is the specification describing when a job is due.
//
// Two forms are supported:
//
//   - Cron: a standard 5-field Unix cron expression as accepted by
//     robfig/cron ParseStandard, including @hourly-style descriptors and an
//     optional CRON_TZ= prefix. Expressions without a zone are evaluated
//     in UTC.
//   - Interval: a fixed duration with an optional anchor time. The next run
//     is the smallest anchor-aligned instant strictly after the reference
//     time. Without an anchor the interval aligns to the Unix epoch.
//
// Exactly one form must be populated.
type Schedule struct {
	Cron   string        `json:"cron,omitempty"`
	Every  time.Duration `json:"every,omitempty"`
	Anchor *time.Time    `json:"anchor,omitempty"`
}

// CronSchedule builds a cron-form schedule.
func CronSchedule(expr string) Schedule {
	return Schedule{Cron: strings.TrimSpace(expr)}
}

// IntervalSchedule builds an interval-form schedule.
func IntervalSchedule(every time.Duration, anchor *time.Time) Schedule {
	return Schedule{Every: every, Anchor: anchor}
}

// Kind returns which form this schedule uses. Undefined for invalid schedules.
func (s Schedule) Kind() ScheduleKind {
	if s.Cron != "" {
		return ScheduleKindCron
	}
	return ScheduleKindInterval
}

// Validate checks the specification for well-formedness, including cron
// expression syntax. Returns an error wrapping ErrInvalidSchedule so callers
// can classify with errors.Is.
func (s Schedule) Validate() error {
	hasCron := strings.TrimSpace(s.Cron) != ""
	hasInterval := s.Every != 0

	switch {
	case hasCron && hasInterval:
		return fmt.Errorf("%w: both cron and interval forms set", ErrInvalidSchedule)
	case !hasCron && !hasInterval:
		return fmt.Errorf("%w: no schedule form set", ErrInvalidSchedule)
	case hasCron:
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return nil
	default:
		if s.Every <= 0 {
			return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidSchedule, s.Every)
		}
		return nil
	}
}

// Interval textual form: "@interval <duration> [anchor=<RFC3339>]".
const intervalPrefix = "@interval "

// String renders the schedule in the textual form accepted by ParseSchedule.
func (s Schedule) String() string {
	if s.Cron != "" {
		return s.Cron
	}
	if s.Anchor != nil {
		return fmt.Sprintf("%s%s anchor=%s", intervalPrefix, s.Every, s.Anchor.UTC().Format(time.RFC3339))
	}
	return intervalPrefix + s.Every.String()
}

// ParseSchedule parses the textual schedule form used in storage and on the
// command line. Anything not starting with "@interval" is treated as a cron
// expression.
func ParseSchedule(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Schedule{}, fmt.Errorf("%w: empty specification", ErrInvalidSchedule)
	}

	if !strings.HasPrefix(raw, "@interval") {
		s := CronSchedule(raw)
		if err := s.Validate(); err != nil {
			return Schedule{}, err
		}
		return s, nil
	}

	fields := strings.Fields(strings.TrimPrefix(raw, "@interval"))
	if len(fields) == 0 || len(fields) > 2 {
		return Schedule{}, fmt.Errorf("%w: malformed interval form %q", ErrInvalidSchedule, raw)
	}

	every, err := time.ParseDuration(fields[0])
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: bad interval duration %q: %v", ErrInvalidSchedule, fields[0], err)
	}

	var anchor *time.Time
	if len(fields) == 2 {
		val, ok := strings.CutPrefix(fields[1], "anchor=")
		if !ok {
			return Schedule{}, fmt.Errorf("%w: malformed interval option %q", ErrInvalidSchedule, fields[1])
		}
		t, parseErr := time.Parse(time.RFC3339, val)
		if parseErr != nil {
			return Schedule{}, fmt.Errorf("%w: bad anchor %q: %v", ErrInvalidSchedule, val, parseErr)
		}
		anchor = &t
	}

	s := IntervalSchedule(every, anchor)
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}
