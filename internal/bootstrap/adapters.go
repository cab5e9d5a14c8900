package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/adapters/jobrunner"
	"github.com/target/catalogue-gen/internal/adapters/reaper"
	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/data"
	"github.com/target/catalogue-gen/internal/observability/statsd"
	"github.com/target/catalogue-gen/internal/service"
)

// WorkerConfig contains configuration for the generation worker pool.
type WorkerConfig struct {
	Jobs        *service.JobService
	Generator   core.ContentGenerator
	Logger      *slog.Logger
	Lease       time.Duration
	Concurrency int
	Metrics     statsd.Sink
}

// RunWorker starts the generation worker pool and blocks until ctx ends.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Jobs:        cfg.Jobs,
		Generator:   cfg.Generator,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("create generation worker: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run generation worker: %w", runErr)
	}
	return nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB         *sql.DB
	Logger     *slog.Logger
	Config     config.ReaperConfig
	RepoConfig data.RepoConfig
	Metrics    statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:         cfg.DB,
		Config:     cfg.Config,
		Logger:     cfg.Logger,
		RepoConfig: cfg.RepoConfig,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
