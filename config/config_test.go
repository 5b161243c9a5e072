package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - runner",
			input: "runner",
			expected: map[ServiceMode]bool{
				ServiceModeRunner: true,
			},
		},
		{
			name:  "single service - reaper",
			input: "reaper",
			expected: map[ServiceMode]bool{
				ServiceModeReaper: true,
			},
		},
		{
			name:  "both services",
			input: "runner,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeRunner: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "services with spaces",
			input: " runner , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeRunner: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "duplicate services",
			input: "runner,runner,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeRunner: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "runner,invalid-service",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name           string
		services       string
		expectedRunner bool
		expectedReaper bool
	}{
		{
			name:           "runner only",
			services:       "runner",
			expectedRunner: true,
		},
		{
			name:           "reaper only",
			services:       "reaper",
			expectedReaper: true,
		},
		{
			name:           "both",
			services:       "runner,reaper",
			expectedRunner: true,
			expectedReaper: true,
		},
		{
			name:     "invalid config disables everything",
			services: "invalid-service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsRunnerEnabled() != tt.expectedRunner {
				t.Errorf("IsRunnerEnabled(): expected %v, got %v", tt.expectedRunner, cfg.IsRunnerEnabled())
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}
		})
	}
}

func TestAppConfig_ParseEnvDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "runner,reaper" {
		t.Errorf("expected default services, got %q", cfg.Services)
	}
	if cfg.Runner.TickInterval != 5*time.Second {
		t.Errorf("expected default tick interval 5s, got %v", cfg.Runner.TickInterval)
	}
	if cfg.Runner.LockBackend != LockBackendPostgres {
		t.Errorf("expected postgres lock backend, got %q", cfg.Runner.LockBackend)
	}
	if cfg.Runner.LockTTL() != cfg.Runner.MaxRunDuration+cfg.Runner.LockGrace {
		t.Errorf("expected lock ttl to be budget plus grace, got %v", cfg.Runner.LockTTL())
	}
	if cfg.Postgres.Port != 5432 {
		t.Errorf("expected default postgres port, got %d", cfg.Postgres.Port)
	}
}

func TestAppConfig_ParseRunnerEnv(t *testing.T) {
	t.Setenv("RUNNER_TICK_INTERVAL", "2s")
	t.Setenv("RUNNER_BATCH_SIZE", "50")
	t.Setenv("RUNNER_CONCURRENCY", "8")
	t.Setenv("RUNNER_MAX_RUN_DURATION", "5m")
	t.Setenv("RUNNER_LOCK_BACKEND", "redis")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Runner.TickInterval != 2*time.Second {
		t.Errorf("expected tick interval 2s, got %v", cfg.Runner.TickInterval)
	}
	if cfg.Runner.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.Runner.BatchSize)
	}
	if cfg.Runner.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Runner.Concurrency)
	}
	if cfg.Runner.MaxRunDuration != 5*time.Minute {
		t.Errorf("expected max run duration 5m, got %v", cfg.Runner.MaxRunDuration)
	}
	if cfg.Runner.LockBackend != LockBackendRedis {
		t.Errorf("expected redis lock backend, got %q", cfg.Runner.LockBackend)
	}
}

func TestRunnerConfig_Sanitize(t *testing.T) {
	cfg := RunnerConfig{
		TickInterval:   time.Millisecond,
		BatchSize:      0,
		Concurrency:    -1,
		MaxRunDuration: 0,
		LockGrace:      0,
		LockBackend:    "etcd",
	}

	cfg.Sanitize()

	if cfg.TickInterval < time.Second {
		t.Errorf("expected tick interval clamped, got %v", cfg.TickInterval)
	}
	if cfg.BatchSize < 1 {
		t.Errorf("expected batch size clamped, got %d", cfg.BatchSize)
	}
	if cfg.Concurrency < 1 {
		t.Errorf("expected concurrency clamped, got %d", cfg.Concurrency)
	}
	if cfg.MaxRunDuration < time.Second {
		t.Errorf("expected run budget clamped, got %v", cfg.MaxRunDuration)
	}
	if cfg.LockGrace < 5*time.Second {
		t.Errorf("expected lock grace clamped, got %v", cfg.LockGrace)
	}
	if cfg.LockBackend != LockBackendPostgres {
		t.Errorf("expected unknown lock backend to fall back to postgres, got %q", cfg.LockBackend)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:        time.Second,
		StaleRunningAge: time.Second,
		BatchSize:       100000,
	}

	cfg.Sanitize()

	if cfg.Interval < 10*time.Second {
		t.Errorf("expected interval clamped, got %v", cfg.Interval)
	}
	if cfg.StaleRunningAge < time.Minute {
		t.Errorf("expected stale running age clamped, got %v", cfg.StaleRunningAge)
	}
	if cfg.BatchSize > 10000 {
		t.Errorf("expected batch size capped, got %d", cfg.BatchSize)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.Slack.Username != "jobrunner" {
		t.Fatalf("expected slack username default, got %q", cfg.Slack.Username)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
}

func TestHandlersConfig_Sanitize(t *testing.T) {
	cfg := HandlersConfig{
		FeedCheck: FeedCheckConfig{
			URL:      "  https://feeds.example.gov/updates.xml  ",
			Timeout:  0,
			CacheTTL: 0,
		},
		DigestNotify: DigestNotifyConfig{
			Window:        0,
			MinErrorCount: 0,
		},
	}

	cfg.Sanitize()

	if cfg.FeedCheck.URL != "https://feeds.example.gov/updates.xml" {
		t.Errorf("expected feed url to be trimmed, got %q", cfg.FeedCheck.URL)
	}
	if cfg.FeedCheck.Timeout <= 0 {
		t.Errorf("expected feed timeout default, got %v", cfg.FeedCheck.Timeout)
	}
	if cfg.DigestNotify.Window < time.Hour {
		t.Errorf("expected digest window clamped, got %v", cfg.DigestNotify.Window)
	}
	if cfg.DigestNotify.MinErrorCount < 1 {
		t.Errorf("expected digest min error count clamped, got %d", cfg.DigestNotify.MinErrorCount)
	}
}
