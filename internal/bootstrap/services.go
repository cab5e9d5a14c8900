package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/data"
	domainjob "github.com/target/catalogue-gen/internal/domain/job"
	"github.com/target/catalogue-gen/internal/generation"
	"github.com/target/catalogue-gen/internal/observability/notify/pagerduty"
	"github.com/target/catalogue-gen/internal/observability/notify/slack"
	"github.com/target/catalogue-gen/internal/observability/statsd"
	"github.com/target/catalogue-gen/internal/provider"
	"github.com/target/catalogue-gen/internal/service"
	"github.com/target/catalogue-gen/internal/service/failurenotifier"
	"github.com/target/catalogue-gen/internal/storage"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Catalogue     *service.CatalogueService
	Generator     core.ContentGenerator
	Artifacts     *storage.ArtifactStore
	Providers     *provider.Chain
	RepoConfig    data.RepoConfig
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink is nil when metrics are disabled.
	MetricsSink   statsd.Sink
	MetricsConfig config.ObservabilityMetricsConfig
	// FailureNotifier is never nil; it has no sinks when notifications are disabled.
	FailureNotifier *failurenotifier.Service
	client          *statsd.Client
}

// Close flushes and closes the metrics client, if any.
func (o ObservabilityContainer) Close() error {
	if o.client == nil {
		return nil
	}
	return o.client.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink and the failure notifier.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	container := ObservabilityContainer{MetricsConfig: cfg.Metrics}
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			container.client = client
			container.MetricsSink = client
		}
	}
	container.FailureNotifier = buildFailureNotifier(obsLogger, cfg.Notifications, container.MetricsSink)
	return container
}

func buildFailureNotifier(
	logger *slog.Logger,
	cfg config.ObservabilityNotificationsConfig,
	metrics statsd.Sink,
) *failurenotifier.Service {
	if logger == nil {
		logger = slog.Default()
	}
	notifierLogger := logger.With("component", "failure_notifier")

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: notifierLogger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:      cfg.Slack.WebhookURL,
			Channel:         cfg.Slack.Channel,
			Username:        cfg.Slack.Username,
			Timeout:         cfg.Timeout,
			RetryLimit:      cfg.RetryLimit,
			StatusURLPrefix: cfg.Slack.StatusURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	svc := failurenotifier.NewService(failurenotifier.Options{
		Logger:  notifierLogger,
		Metrics: metrics,
		Sinks:   sinks,
		DeliveryTimeout: cfg.DeliveryTimeout(),
	})
	logger.Info("failure notifications configured", "sinks", svc.SinkNames())
	return svc
}

// buildRepoConfig maps worker retry settings onto the queue's redelivery policy.
func buildRepoConfig(cfg *config.AppConfig, logger *slog.Logger) data.RepoConfig {
	return data.RepoConfig{
		Retry: domainjob.RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			BaseDelay:   cfg.Worker.RetryBaseDelay,
			MaxDelay:    cfg.Worker.RetryMaxDelay,
		},
		Logger: logger,
	}
}

// buildStatusCache returns nil when no Redis client is configured so status reads fall
// through to Postgres.
//
//nolint:ireturn // a nil interface signals "no cache" to the services.
func buildStatusCache(client redis.UniversalClient) core.StatusCache {
	if client == nil {
		return nil
	}
	return data.NewRedisStatusCache(client, data.DefaultStatusTTLs())
}

// buildProviderChain assembles the backends in priority order: runway, prediction, mock.
func buildProviderChain(cfg config.ProvidersConfig, scratchDir string, logger *slog.Logger, sink statsd.Sink) (*provider.Chain, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	downloader := provider.NewDownloader(nil, scratchDir)
	imagePoll := provider.PollConfig{Interval: cfg.PollInterval, MaxAttempts: cfg.ImagePollAttempts}
	videoPoll := provider.PollConfig{Interval: cfg.PollInterval, MaxAttempts: cfg.VideoPollAttempts}

	runway := provider.NewRunwayBackend(provider.RunwayOptions{
		APIKey:     cfg.RunwayAPIKey,
		BaseURL:    cfg.RunwayBaseURL,
		HTTPClient: httpClient,
		Downloader: downloader,
		ImagePoll:  imagePoll,
		VideoPoll:  videoPoll,
		Logger:     logger,
	})
	prediction, err := provider.NewPredictionBackend(provider.PredictionOptions{
		Token:        cfg.PredictionToken,
		BaseURL:      cfg.PredictionBaseURL,
		ImageVersion: cfg.PredictionImageVersion,
		VideoVersion: cfg.PredictionVideoVersion,
		OutputExpr:   cfg.PredictionOutputExpr,
		HTTPClient:   httpClient,
		Downloader:   downloader,
		ImagePoll:    imagePoll,
		VideoPoll:    videoPoll,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create prediction backend: %w", err)
	}

	chain := provider.NewChain(provider.ChainOptions{
		Backends: []provider.Backend{runway, prediction},
		Logger:   logger,
		Metrics:  sink,
	})
	if logger != nil {
		logger.Info("generation backends configured", "active", chain.Active())
	}
	return chain, nil
}

// NewServices wires repositories, storage, providers and services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies require a config")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("service dependencies require a database")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, cfg.Observability)
	cache := buildStatusCache(deps.RedisClient)
	repoCfg := buildRepoConfig(cfg, logger)
	repoCfg.StatusCache = cache
	jobRepo := data.NewJobRepo(deps.DB, repoCfg)
	itemRepo := data.NewItemRepo(deps.DB, repoCfg)

	artifacts, err := storage.NewArtifactStore(cfg.Storage.Root, cfg.Storage.PublicPrefix)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create artifact store: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.ScratchDir, 0o750); err != nil {
		return ServiceContainer{}, fmt.Errorf("create scratch dir: %w", err)
	}

	chain, err := buildProviderChain(cfg.Providers, cfg.Storage.ScratchDir, logger, observability.MetricsSink)
	if err != nil {
		return ServiceContainer{}, err
	}

	orchestrator, err := generation.NewOrchestrator(generation.OrchestratorOptions{
		Generator: chain,
		Store:     artifacts,
		Logger:    logger,
		Metrics:   observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create orchestrator: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         jobRepo,
		Items:        itemRepo,
		Cache:        cache,
		DefaultLease: cfg.Worker.JobLease,
		Logger:       logger,

		FailureNotifier: observability.FailureNotifier,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	catalogue, err := service.NewCatalogueService(service.CatalogueServiceOptions{
		Jobs:      jobRepo,
		Items:     itemRepo,
		Artifacts: artifacts,
		Cache:     cache,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create catalogue service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Catalogue:     catalogue,
		Generator:     orchestrator,
		Artifacts:     artifacts,
		Providers:     chain,
		RepoConfig:    repoCfg,
		Observability: observability,
	}, nil
}
