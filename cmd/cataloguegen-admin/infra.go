package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/bootstrap"
	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/data"
	domainjob "github.com/target/catalogue-gen/internal/domain/job"
)

// storeNeeds selects which backing stores a command connects to.
type storeNeeds uint8

const (
	needDB storeNeeds = 1 << iota
	needRedis
	// wantRedis connects Redis when it is configured and tolerates its absence.
	wantRedis
)

var errRedisNotConfigured = errors.New("redis not configured")

type stores struct {
	db    *sql.DB
	redis redis.UniversalClient
}

func (a *app) openStores(needs storeNeeds) (*stores, error) {
	st := &stores{}
	if needs&needDB != 0 {
		db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: a.cfg.Postgres, Logger: a.logger})
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		st.db = db
	}

	if needs&(needRedis|wantRedis) == 0 {
		return st, nil
	}
	if !hasRedisConfig(&a.cfg.Redis) {
		if needs&needRedis != 0 {
			return nil, errors.Join(errRedisNotConfigured, st.closeErr())
		}
		a.logger.Info("no redis configuration detected; skipping redis connection")
		return st, nil
	}

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: a.cfg.Redis, Logger: a.logger})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect redis: %w", err), st.closeErr())
	}
	st.redis = client
	return st, nil
}

func (st *stores) close(logger *slog.Logger) {
	if err := st.closeErr(); err != nil {
		logger.Warn("close stores failed", "error", err)
	}
}

func (st *stores) closeErr() error {
	var errs []error
	if st.db != nil {
		if err := st.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	if st.redis != nil {
		if err := st.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	switch {
	case cfg == nil || !cfg.Enabled:
		return false
	case cfg.UseCluster:
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	case cfg.UseSentinel:
		return len(cfg.SentinelNodes) > 0
	default:
		return cfg.URI != ""
	}
}

// jobRepo builds a repository that applies the worker's configured retry policy and,
// when Redis is connected, keeps the status cache in step with lease recovery.
func (a *app) jobRepo(st *stores) *data.JobRepo {
	return data.NewJobRepo(st.db, a.repoConfig(st))
}

func (a *app) repoConfig(st *stores) data.RepoConfig {
	w := a.cfg.Worker
	var cache core.StatusCache
	if st.redis != nil {
		cache = data.NewRedisStatusCache(st.redis, data.DefaultStatusTTLs())
	}
	return data.RepoConfig{
		Logger:      a.logger,
		StatusCache: cache,
		Retry: domainjob.RetryPolicy{
			MaxAttempts: w.MaxAttempts,
			BaseDelay:   w.RetryBaseDelay,
			MaxDelay:    w.RetryMaxDelay,
		},
	}
}
