// Package reaper wires the queue housekeeping service to Postgres.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/data"
	"github.com/target/catalogue-gen/internal/observability/statsd"
	"github.com/target/catalogue-gen/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner. Either DB or Repo must
// be set; Repo wins when both are.
type RunnerOptions struct {
	DB     *sql.DB
	Repo   core.ReaperRepository
	Config config.ReaperConfig
	Logger *slog.Logger

	// RepoConfig carries the retry policy applied when expired leases are recovered.
	RepoConfig data.RepoConfig
	Metrics    statsd.Sink
}

// Runner drives the reaper either as a long-lived loop or as a single sweep.
type Runner struct {
	svc    *service.ReaperService
	logger *slog.Logger
}

// NewRunner builds the reaper service from opts.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo, err := resolveRepo(opts, logger)
	if err != nil {
		return nil, err
	}

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Config:  opts.Config,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}
	return &Runner{svc: svc, logger: logger.With("component", "reaper_runner")}, nil
}

func resolveRepo(opts RunnerOptions, logger *slog.Logger) (core.ReaperRepository, error) {
	switch {
	case opts.Repo != nil:
		return opts.Repo, nil
	case opts.DB != nil:
		cfg := opts.RepoConfig
		if cfg.Logger == nil {
			cfg.Logger = logger
		}
		return data.NewJobRepo(opts.DB, cfg), nil
	default:
		return nil, errors.New("database connection or reaper repository is required")
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.svc.Run(ctx)
}

// Sweep performs one housekeeping pass and logs how long it took.
func (r *Runner) Sweep(ctx context.Context) error {
	start := time.Now()
	err := r.svc.RunOnce(ctx)
	r.logger.InfoContext(ctx, "reaper sweep finished", "duration", time.Since(start), "error", err)
	return err
}
