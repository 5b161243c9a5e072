package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complyops/jobrunner/config"
	"github.com/complyops/jobrunner/internal/core"
	"github.com/complyops/jobrunner/internal/data"
	"github.com/complyops/jobrunner/internal/handlers"
	"github.com/complyops/jobrunner/internal/observability/notify"
	"github.com/complyops/jobrunner/internal/observability/notify/slack"
	"github.com/complyops/jobrunner/internal/observability/statsd"
	"github.com/complyops/jobrunner/internal/registry"
	"github.com/complyops/jobrunner/internal/service"
	"github.com/complyops/jobrunner/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Admin         *service.JobAdminService
	Runner        *service.RunnerService
	Reaper        *service.ReaperService
	Registry      *registry.Registry
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// lockBundle pairs a lock manager with its purger, where the backend has one.
type lockBundle struct {
	manager core.LockManager
	purger  core.LockPurger
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "jobrunner",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	failureNotifier := buildFailureNotifier(obsLogger, cfg.Notifications)

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: failureNotifier,
		NotifierConfig:  cfg.Notifications,
	}
}

// buildFailureNotifier wires the configured notification sinks into the
// fan-out service. An empty sink list is valid; the notifier no-ops.
func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	var sinks []failurenotifier.SinkRegistration

	if cfg.Enabled && cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack sink", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})
}

// buildLockManager selects the lock backend. Postgres locks need periodic
// purging of expired rows; Redis keys expire natively.
func buildLockManager(deps *ServiceDeps) (lockBundle, error) {
	backend := deps.Config.Runner.LockBackend
	switch backend {
	case config.LockBackendRedis:
		if deps.RedisClient == nil {
			return lockBundle{}, errors.New("redis lock backend requires a redis connection")
		}
		return lockBundle{manager: data.NewRedisLockRepo(deps.RedisClient)}, nil
	case config.LockBackendPostgres, "":
		repo := data.NewLockRepo(deps.DB)
		return lockBundle{manager: repo, purger: repo}, nil
	default:
		return lockBundle{}, fmt.Errorf("unknown lock backend %q", backend)
	}
}

// buildRegistry constructs the handler registry with the built-in handlers
// that the configuration enables.
func buildRegistry(deps *ServiceDeps, jobs *data.JobRepo, obs ObservabilityContainer) (*registry.Registry, error) {
	reg := registry.New()
	cfg := deps.Config.Handlers

	snapshot, err := handlers.NewRiskSnapshotHandler(handlers.RiskSnapshotOptions{
		Store:  jobs,
		Config: cfg.RiskSnapshot,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build risk snapshot handler: %w", err)
	}
	if err = reg.Register(handlers.JobTypeRiskSnapshot, snapshot); err != nil {
		return nil, err
	}

	digest, err := handlers.NewDigestNotifyHandler(handlers.DigestNotifyOptions{
		Store: jobs,
		Sink: notify.SinkFunc(func(ctx context.Context, payload notify.JobFailurePayload) error {
			obs.FailureNotifier.NotifyJobFailure(ctx, payload)
			return nil
		}),
		Config: cfg.DigestNotify,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build digest handler: %w", err)
	}
	if err = reg.Register(handlers.JobTypeDigestNotify, digest); err != nil {
		return nil, err
	}

	if cfg.FeedCheck.URL != "" && deps.RedisClient != nil {
		feed, feedErr := handlers.NewFeedCheckHandler(handlers.FeedCheckOptions{
			Cache:  data.NewRedisFeedCache(deps.RedisClient),
			Config: cfg.FeedCheck,
			Logger: deps.Logger,
		})
		if feedErr != nil {
			return nil, fmt.Errorf("build feed check handler: %w", feedErr)
		}
		if err = reg.Register(handlers.JobTypeFeedCheck, feed); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// NewServices wires repositories, handlers, and services from shared
// infrastructure. The returned container is fully constructed; starting the
// background loops is RunServicesWithShutdown's job.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("service deps require config and database")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, deps.Config.Observability)

	jobRepo := data.NewJobRepo(deps.DB)

	locks, err := buildLockManager(deps)
	if err != nil {
		return ServiceContainer{}, err
	}

	reg, err := buildRegistry(deps, jobRepo, observability)
	if err != nil {
		return ServiceContainer{}, err
	}

	var metricsSink statsd.Sink
	if observability.MetricsSink != nil {
		metricsSink = observability.MetricsSink
	}

	runner, err := service.NewRunnerService(service.RunnerServiceOptions{
		Store:    jobRepo,
		Locks:    locks.manager,
		Registry: reg,
		Config:   deps.Config.Runner,
		Logger:   logger,
		Metrics:  metricsSink,
		Notifier: observability.FailureNotifier,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build runner service: %w", err)
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Store:      jobRepo,
		Stale:      jobRepo,
		LockPurger: locks.purger,
		Config:     deps.Config.Reaper,
		Logger:     logger,
		Metrics:    metricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper service: %w", err)
	}

	admin, err := service.NewJobAdminService(service.JobAdminServiceOptions{
		Store:  jobRepo,
		Admin:  jobRepo,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build admin service: %w", err)
	}

	return ServiceContainer{
		Admin:         admin,
		Runner:        runner,
		Reaper:        reaper,
		Registry:      reg,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig) []backgroundService {
	return []backgroundService{
		{
			mode:  config.ServiceModeRunner,
			name:  "runner",
			start: cfg.Services.Runner.Run,
		},
		{
			mode:  config.ServiceModeReaper,
			name:  "reaper",
			start: cfg.Services.Reaper.Run,
		},
	}
}

func launchBackground(
	ctx context.Context,
	logger *slog.Logger,
	descriptor backgroundService,
	errCh chan<- error,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s service: %w", descriptor.name, err)
			select {
			case errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	errCh := make(chan error, len(enabledServices)+1)

	var handles []backgroundServiceHandle
	for _, descriptor := range buildBackgroundServices(cfg) {
		if !enabledServices[descriptor.mode] {
			continue
		}
		handles = append(handles, backgroundServiceHandle{
			name: descriptor.name,
			done: launchBackground(serviceCtx, logger, descriptor, errCh),
		})
	}

	if len(handles) == 0 {
		return errors.New("no services enabled")
	}

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: handles,
		metrics:     cfg.Services.Observability.MetricsSink,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	metrics     *statsd.Client
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop waits for background services to drain, bounded by the
// shutdown timeout. A runner mid-execution gets this window to persist
// its completion transitions.
func gracefulStop(cfg shutdownConfig) error {
	deadline := time.NewTimer(shutdownWaitTimeout)
	defer deadline.Stop()

	for _, handle := range cfg.backgrounds {
		select {
		case <-handle.done:
			cfg.logger.Info("background service stopped", "service", handle.name)
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for %s to stop", handle.name)
		}
	}

	if cfg.metrics != nil {
		if err := cfg.metrics.Close(); err != nil {
			cfg.logger.Error("close metrics sink failed", "error", err)
		}
	}

	return nil
}
