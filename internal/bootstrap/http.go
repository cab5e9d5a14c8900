package bootstrap

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalogue-gen/config"
	httpx "github.com/target/catalogue-gen/internal/http"
)

const defaultShutdownTimeout = 15 * time.Second

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Redis    redis.UniversalClient // Optional: adds a redis readiness check
	Logger   *slog.Logger
}

// NewHTTPServer builds the API server without starting it. The caller owns
// ListenAndServe and ShutdownHTTPServer.
func NewHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := httpx.NewRouter(buildRouterServices(cfg, appCfg, logger))
	return buildServer(handler, appCfg.HTTP)
}

func buildRouterServices(cfg *HTTPServerConfig, appCfg *config.AppConfig, logger *slog.Logger) httpx.RouterServices {
	services := httpx.RouterServices{
		Metrics:       cfg.Services.Observability.MetricsSink,
		Logger:        logger,
		UploadsRoot:   appCfg.Storage.Root,
		UploadsPrefix: appCfg.Storage.PublicPrefix,
	}
	// Leave interface fields nil rather than wrapping typed nils.
	if cfg.Services.Catalogue != nil {
		services.Catalogue = cfg.Services.Catalogue
	}
	if cfg.DB != nil {
		services.Ready = append(services.Ready, httpx.ReadyCheck{Name: "postgres", Ping: cfg.DB.PingContext})
	}
	if cfg.Redis != nil {
		client := cfg.Redis
		services.Ready = append(services.Ready, httpx.ReadyCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	return services
}

func buildServer(handler http.Handler, httpCfg config.HTTPConfig) *http.Server {
	addr := httpCfg.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       httpCfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      httpCfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server. In-flight requests get up to
// Timeout to finish.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
