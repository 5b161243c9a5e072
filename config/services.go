package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeRunner runs the scheduled job runner.
	ServiceModeRunner ServiceMode = "runner"
	// ServiceModeReaper runs the crash-recovery reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// LockBackend selects the implementation backing the execution lock.
type LockBackend string

const (
	// LockBackendPostgres keeps execution locks in the execution_locks table.
	LockBackendPostgres LockBackend = "postgres"
	// LockBackendRedis keeps execution locks in Redis with native key expiry.
	LockBackendRedis LockBackend = "redis"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeRunner, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeRunner, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// RunnerConfig contains job runner service configuration.
type RunnerConfig struct {
	// TickInterval is how often the runner scans for due jobs.
	TickInterval time.Duration `env:"RUNNER_TICK_INTERVAL" envDefault:"5s"`

	// BatchSize is the maximum number of due jobs triggered per tick.
	BatchSize int `env:"RUNNER_BATCH_SIZE" envDefault:"25"`

	// Concurrency is the number of due jobs executed in parallel per tick.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"4"`

	// MaxRunDuration is the default execution budget per run. Handlers
	// exceeding it are abandoned and their run recorded as a failure.
	MaxRunDuration time.Duration `env:"RUNNER_MAX_RUN_DURATION" envDefault:"10m"`

	// LockGrace is added to the run budget to form the lock TTL, leaving
	// room for the completion write after the handler finishes.
	LockGrace time.Duration `env:"RUNNER_LOCK_GRACE" envDefault:"30s"`

	// LockBackend selects where execution locks live.
	// Valid values: postgres, redis
	LockBackend LockBackend `env:"RUNNER_LOCK_BACKEND" envDefault:"postgres"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.TickInterval < time.Second {
		r.TickInterval = time.Second
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.MaxRunDuration < time.Second {
		r.MaxRunDuration = time.Second
	}
	if r.LockGrace < 5*time.Second {
		r.LockGrace = 5 * time.Second
	}
	switch r.LockBackend {
	case LockBackendPostgres, LockBackendRedis:
	default:
		r.LockBackend = LockBackendPostgres
	}
}

// LockTTL returns the lease duration for execution locks: the run budget
// plus grace for the completion write.
func (r *RunnerConfig) LockTTL() time.Duration {
	return r.MaxRunDuration + r.LockGrace
}

// ReaperConfig contains crash-recovery reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper sweep interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// StaleRunningAge is how long a job may sit in RUNNING without its
	// record being touched before the reaper aborts it. Must exceed the
	// lock TTL or the reaper could abort a live execution.
	StaleRunningAge time.Duration `env:"REAPER_STALE_RUNNING_AGE" envDefault:"15m"`

	// BatchSize is the maximum number of stale jobs recovered per sweep.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.StaleRunningAge < time.Minute {
		r.StaleRunningAge = time.Minute
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
