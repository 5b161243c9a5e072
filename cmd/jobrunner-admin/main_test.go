package main

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complyops/jobrunner/internal/domain/model"
)

func captureStdout(t *testing.T, f func() error) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		os.Stdout = oldStdout
	}()

	os.Stdout = w
	runErr := f()
	require.NoError(t, w.Close())
	os.Stdout = oldStdout
	require.NoError(t, runErr)

	output, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(output)
}

func TestPrintJobTable(t *testing.T) {
	lastRun := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	nextRun := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	out := captureStdout(t, func() error {
		return printJobTable([]model.JobDefinition{
			{
				ID:         "risk-snapshot-acme",
				Tenant:     "acme",
				JobType:    "riskSnapshot",
				Schedule:   model.IntervalSchedule(time.Hour, nil),
				Status:     model.JobStatusFailed,
				ErrorCount: 2,
				LastRunAt:  &lastRun,
				NextRunAt:  &nextRun,
			},
		})
	})

	require.Contains(t, out, "risk-snapshot-acme")
	require.Contains(t, out, "failed")
	require.Contains(t, out, "2026-03-01T12:00:00Z")
}

func TestPrintJobTableEmpty(t *testing.T) {
	out := captureStdout(t, func() error {
		return printJobTable(nil)
	})
	require.Contains(t, out, "No job definitions found")
}

func TestPrintLockTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	out := captureStdout(t, func() error {
		return printLockTable([]model.ExecutionLock{
			{
				JobID:      "risk-snapshot-acme",
				Holder:     "2f0b4c1a-55d3-4f4e-9f46-2e4d45a2b9f1",
				AcquiredAt: now.Add(-3 * time.Minute),
				ExpiresAt:  now.Add(-time.Minute),
			},
			{
				JobID:      "feed-check-sanctions",
				Holder:     "8fb7f0a2-9a3e-4f8e-9c78-04c6a5a11b02",
				AcquiredAt: now.Add(-time.Minute),
				ExpiresAt:  now.Add(time.Minute),
			},
		}, now)
	})

	require.Contains(t, out, "risk-snapshot-acme")
	require.Contains(t, out, "expired")
	require.Contains(t, out, "feed-check-sanctions")
	require.Contains(t, out, "live")
	require.Contains(t, out, "2026-03-01T12:01:00Z")
}

func TestPrintLockTableEmpty(t *testing.T) {
	out := captureStdout(t, func() error {
		return printLockTable(nil, time.Now())
	})
	require.Contains(t, out, "No execution locks found")
}

func TestPrintJobDetailWithResult(t *testing.T) {
	job := &model.JobDefinition{
		ID:             "feed-check-sanctions",
		Tenant:         "acme",
		JobType:        "feedCheck",
		Schedule:       model.CronSchedule("0 8 * * *"),
		Status:         model.JobStatusActive,
		MaxRunDuration: 90 * time.Second,
		LastResult: &model.ExecutionResult{
			Success: false,
			Message: "poll feed: unexpected status 500",
		},
	}

	out := captureStdout(t, func() error {
		return printJobDetail(job)
	})

	require.Contains(t, out, "feed-check-sanctions")
	require.Contains(t, out, "Run budget:   1m30s")
	require.Contains(t, out, "Last result:  failed: poll feed: unexpected status 500")
	require.Contains(t, out, "Next run:     -")
}
