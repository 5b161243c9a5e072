package util //nolint:revive // package name util hosts shared formatting helpers used across CLI output

import "time"

// FormatRunDuration formats a time.Duration for display, handling edge cases.
// Returns "-" for zero or negative durations, truncates to milliseconds for readability.
func FormatRunDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}

// FormatTime renders an optional timestamp for tabular display. Nil means
// the event has never happened.
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
