package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/data"
)

const connectTimeout = 5 * time.Second

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// postgresDSN builds the connection URL; url.UserPassword escapes credentials.
func postgresDSN(c config.DBConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// ConnectDB opens the Postgres pool through the pgx stdlib driver and pings it.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(postgresDSN(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	connCfg.RuntimeParams["application_name"] = "catalogue-gen"

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(positiveOr(cfg.DBConfig.MaxOpenConns, 25))
	db.SetMaxIdleConns(positiveOr(cfg.DBConfig.MaxIdleConns, 5))
	lifetime := cfg.DBConfig.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		return nil, errors.Join(fmt.Errorf("ping database: %w", pingErr), db.Close())
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
			"max_open_conns", positiveOr(cfg.DBConfig.MaxOpenConns, 25),
		)
	}
	return db, nil
}

// ConnectRedis connects the status cache client. Sentinel and cluster deployments go
// through redis.UniversalOptions; a plain URI may be host:port or a redis:// URL.
//
//nolint:ireturn // the concrete client type depends on the deployment mode.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		return nil, errors.Join(fmt.Errorf("ping redis: %w", pingErr), client.Close())
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "mode", redisMode(cfg.RedisConfig), "addrs", strings.Join(opts.Addrs, ","))
	}
	return client, nil
}

func redisMode(c config.RedisConfig) string {
	switch {
	case c.UseCluster:
		return "cluster"
	case c.UseSentinel:
		return "sentinel"
	default:
		return "direct"
	}
}

// redisOptions translates config into UniversalOptions. NewUniversalClient picks a
// failover client when MasterName is set, a cluster client when IsClusterMode is set,
// and a single-node client otherwise.
func redisOptions(c config.RedisConfig) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{Password: c.Password, DB: c.DB}

	switch redisMode(c) {
	case "sentinel":
		opts.Addrs = trimAddrs(c.SentinelNodes)
		if len(opts.Addrs) == 0 {
			return nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		opts.MasterName = c.SentinelMasterName
		opts.SentinelPassword = c.SentinelPassword
		return opts, nil
	case "cluster":
		opts.IsClusterMode = true
		opts.DB = 0
		opts.Addrs = trimAddrs(c.ClusterNodes)
		if len(opts.Addrs) > 0 {
			return opts, nil
		}
		// Fall back to the single URI as the cluster seed.
	}

	uri := strings.TrimSpace(c.URI)
	if uri == "" {
		return nil, errors.New("redis configuration requires a URI")
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		opts.Addrs = []string{uri}
		return opts, nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	if !opts.IsClusterMode {
		opts.DB = parsed.DB
	}
	opts.TLSConfig = parsed.TLSConfig
	return opts, nil
}

func trimAddrs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, addr := range raw {
		if a := strings.TrimSpace(addr); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// RunMigrations applies the catalogue schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
