package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/complyops/jobrunner/internal/observability/notify"
)

func TestServiceNotifyJobFailure(t *testing.T) {
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []notify.JobFailurePayload
	)
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "capture",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.JobFailurePayload) error {
					mu.Lock()
					defer mu.Unlock()
					received = append(received, payload)
					return nil
				}),
			},
		},
	})

	svc.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:   "risk-snapshot-acme",
		JobType: "riskSnapshot",
		Outcome: notify.OutcomeFailed,
	})

	if len(received) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(received))
	}
	if received[0].Severity != notify.SeverityCritical {
		t.Fatalf("expected severity to default to critical, got %s", received[0].Severity)
	}
}

func TestServiceFansOutToAllSinks(t *testing.T) {
	ctx := context.Background()

	var (
		mu    sync.Mutex
		names []string
	)
	capture := func(name string) notify.Sink {
		return notify.SinkFunc(func(ctx context.Context, payload notify.JobFailurePayload) error {
			mu.Lock()
			defer mu.Unlock()
			names = append(names, name)
			return nil
		})
	}

	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "slack", Sink: capture("slack")},
			{Name: "audit", Sink: capture("audit")},
		},
	})

	svc.NotifyJobFailure(ctx, notify.JobFailurePayload{JobID: "digest-notify"})

	if len(names) != 2 {
		t.Fatalf("expected both sinks invoked, got %v", names)
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{})
	if svc.Enabled() {
		t.Fatal("expected Enabled() to be false when no sinks registered")
	}
}

func TestServiceLogsErrors(t *testing.T) {
	// Ensure we don't panic when sink returns an error.
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "fail",
				Sink: notify.SinkFunc(func(ctx context.Context, payload notify.JobFailurePayload) error {
					return errors.New("boom")
				}),
			},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "feed-check"})
}
