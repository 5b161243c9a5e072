package metrics

import (
	"time"

	obserrors "github.com/complyops/jobrunner/internal/observability/errors"
	"github.com/complyops/jobrunner/internal/observability/statsd"
)

// Outcome constants for metric tagging. They mirror the trigger outcomes of
// the runner so dashboards can split completed runs from skips and aborts.
const (
	OutcomeCompleted = "completed"
	OutcomeBusy      = "busy"
	OutcomeLocked    = "locked"
	OutcomeAborted   = "aborted"
	OutcomeError     = "error"
)

// TriggerMetric captures details about one trigger attempt for metric emission.
type TriggerMetric struct {
	JobType  string
	Outcome  string
	Success  bool
	Duration time.Duration
	Err      error
}

// EmitTrigger emits standardised trigger lifecycle metrics.
func EmitTrigger(sink statsd.Sink, in TriggerMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type": in.JobType,
		"outcome":  in.Outcome,
	}
	if in.Outcome == OutcomeCompleted {
		if in.Success {
			tags["result"] = "success"
		} else {
			tags["result"] = "failure"
		}
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("runner.trigger", 1, tags)

	if in.Duration > 0 {
		sink.Timing("runner.run_duration", in.Duration, CloneTags(tags))
	}
}

// EmitTick reports the size of one scheduler pass.
func EmitTick(sink statsd.Sink, due int, triggered int, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.Gauge("runner.tick.due", float64(due), nil)
	sink.Count("runner.tick.triggered", int64(triggered), nil)
	sink.Timing("runner.tick.duration", elapsed, nil)
}

// EmitReaperSweep reports the result of one crash-recovery sweep.
func EmitReaperSweep(sink statsd.Sink, aborted int64, purgedLocks int64, elapsed time.Duration, err error) {
	if sink == nil {
		return
	}

	tags := map[string]string{"result": "success"}
	if err != nil {
		tags["result"] = "error"
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("reaper.aborted", aborted, CloneTags(tags))
	sink.Count("reaper.purged_locks", purgedLocks, CloneTags(tags))
	sink.Timing("reaper.sweep_duration", elapsed, tags)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
