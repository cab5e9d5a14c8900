// Command cataloguegen runs the catalogue generation API, worker pool and reaper.
// APP_SERVICES selects which of them this process hosts.
package main

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
	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/bootstrap"
)

const startupMigrationTimeout = 5 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig()
	logger := bootstrap.InitLogger(&cfg)
	if err == nil {
		err = run(ctx, logger, &cfg)
	}
	if err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // non-zero exit on fatal startup or runtime errors
	}
}

// infra holds the long-lived connections shared by every service role.
type infra struct {
	db    *sql.DB
	redis redis.UniversalClient // nil when the status cache is disabled
}

func (i *infra) Close() error {
	var errs []error
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func connect(cfg *config.AppConfig, logger *slog.Logger) (*infra, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	in := &infra{db: db}

	if !cfg.Redis.Enabled {
		logger.Info("status cache disabled; status reads use postgres")
		return in, nil
	}
	in.redis, err = bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect redis: %w", err), in.Close())
	}
	return in, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) error {
	if err := bootstrap.ValidateServiceConfig(cfg); err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting catalogue generation service",
		"db", fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Name),
		"status_cache", cfg.Redis.Enabled,
		"enabled_services", bootstrap.GetEnabledServices(cfg))

	in, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close infrastructure failed", "error", cerr)
		}
	}()

	if cfg.Postgres.RunMigrationsOnStart {
		mctx, cancel := context.WithTimeout(ctx, startupMigrationTimeout)
		err = bootstrap.RunMigrations(mctx, in.db, logger)
		cancel()
		if err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup")
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      cfg,
		DB:          in.db,
		RedisClient: in.redis,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	return bootstrap.RunServicesWithShutdown(ctx, &bootstrap.ServiceOrchestrationConfig{
		Config:      cfg,
		Services:    services,
		DB:          in.db,
		RedisClient: in.redis,
		Logger:      logger,
	})
}
