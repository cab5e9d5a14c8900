package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalogue-gen/config"
	"golang.org/x/sync/errgroup"
)

// roleStopTimeout bounds how long workers and the reaper get to requeue in-flight jobs
// once they are cancelled.
const roleStopTimeout = 30 * time.Second

var errRolesStuck = errors.New("roles did not stop in time")

// ServiceOrchestrationConfig is what RunServicesWithShutdown needs to run the roles.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// role is one long-running part of the process selected by APP_SERVICES.
type role struct {
	mode config.ServiceMode
	run  func(ctx context.Context) error
}

// RunServicesWithShutdown runs every enabled role until ctx ends or a role fails. The HTTP
// server drains first so no new jobs are accepted, then workers and the reaper are
// cancelled. Workers requeue the jobs they hold before returning.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration requires an app config")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = NewHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			DB:       cfg.DB,
			Redis:    cfg.RedisClient,
			Logger:   logger,
		})
	}
	drain := func() error {
		return ShutdownHTTPServer(ShutdownConfig{
			Server:  server,
			Timeout: cfg.Config.HTTP.ShutdownTimeout,
			Logger:  logger,
		})
	}

	runErr := supervise(ctx, logger, selectRoles(enabled, cfg, server, logger), drain)

	if cfg.Services.Jobs != nil {
		cfg.Services.Jobs.StopAllListeners()
	}
	if closeErr := cfg.Services.Observability.Close(); closeErr != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close metrics client: %w", closeErr))
	}
	return runErr
}

// selectRoles returns the enabled roles in start order.
func selectRoles(enabled map[config.ServiceMode]bool, cfg *ServiceOrchestrationConfig, server *http.Server, logger *slog.Logger) []role {
	svc := cfg.Services
	all := []role{
		{mode: config.ServiceModeHTTP, run: func(context.Context) error {
			logger.Info("starting HTTP server", "addr", server.Addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}},
		{mode: config.ServiceModeWorker, run: func(ctx context.Context) error {
			return RunWorker(ctx, WorkerConfig{
				Jobs:        svc.Jobs,
				Generator:   svc.Generator,
				Logger:      logger,
				Lease:       cfg.Config.Worker.JobLease,
				Concurrency: cfg.Config.Worker.Concurrency,
				Metrics:     svc.Observability.MetricsSink,
			})
		}},
		{mode: config.ServiceModeReaper, run: func(ctx context.Context) error {
			return RunReaper(ctx, ReaperConfig{
				DB:         cfg.DB,
				Logger:     logger,
				Config:     cfg.Config.Reaper,
				RepoConfig: svc.RepoConfig,
				Metrics:    svc.Observability.MetricsSink,
			})
		}},
	}

	out := all[:0]
	for _, r := range all {
		if enabled[r.mode] && (r.mode != config.ServiceModeHTTP || server != nil) {
			out = append(out, r)
		}
	}
	return out
}

// supervise runs roles until ctx ends or one of them fails. It then calls drain, cancels
// the remaining roles and waits up to roleStopTimeout for them. A role failure is returned;
// a clean stop after ctx ends is not an error.
func supervise(ctx context.Context, logger *slog.Logger, roles []role, drain func() error) error {
	roleCtx, cancelRoles := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRoles()

	g, gctx := errgroup.WithContext(roleCtx)
	for _, r := range roles {
		g.Go(func() error {
			logger.Info("role started", "role", r.mode)
			if err := r.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", r.mode, err)
			}
			logger.Info("role stopped", "role", r.mode)
			return nil
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case <-gctx.Done():
		logger.Error("role failed; shutting down")
	}

	var errs []error
	if err := drain(); err != nil {
		errs = append(errs, fmt.Errorf("drain http: %w", err))
	}
	cancelRoles()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	case <-time.After(roleStopTimeout):
		logger.Warn("roles still running after stop timeout", "timeout", roleStopTimeout)
		errs = append(errs, errRolesStuck)
	}
	return errors.Join(errs...)
}
