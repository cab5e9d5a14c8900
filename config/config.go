// Package config holds the environment-driven settings for the catalogue service. Values
// are parsed with github.com/caarlos0/env and then clamped by Sanitize.
package config

import (
	"log/slog"
	"os"
	"strings"
)

// AppConfig is the root configuration. Sub-configs live next to the code that owns them:
// database.go (Postgres, Redis), http.go, services.go (roles, worker, reaper),
// providers.go (generation backends), storage.go and observability.go.
type AppConfig struct {
	// IsDev switches to text logs at debug level. NODE_ENV=development also enables it.
	IsDev    bool       `env:"DEV"       envDefault:"false"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// Services lists the roles this process runs: http, worker, reaper.
	Services string `env:"APP_SERVICES" envDefault:"http,worker,reaper"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	HTTP     HTTPConfig

	Worker    WorkerConfig    `envPrefix:"WORKER_"`
	Reaper    ReaperConfig    `envPrefix:"REAPER_"`
	Providers ProvidersConfig
	Storage   StorageConfig `envPrefix:"STORAGE_"`

	Observability ObservabilityConfig
}

// Sanitize clamps every sub-config and settles dev mode. Call it once after parsing.
func (c *AppConfig) Sanitize() {
	for _, s := range []interface{ Sanitize() }{
		&c.HTTP,
		&c.Worker,
		&c.Reaper,
		&c.Providers,
		&c.Storage,
		&c.Observability,
	} {
		s.Sanitize()
	}

	if !c.IsDev {
		c.IsDev = devEnvironment(os.Getenv("NODE_ENV"))
	}
	if c.IsDev {
		c.LogLevel = min(c.LogLevel, slog.LevelDebug)
	}
}

func devEnvironment(nodeEnv string) bool {
	switch strings.ToLower(strings.TrimSpace(nodeEnv)) {
	case "development", "dev":
		return true
	}
	return false
}

// GetEnabledServices parses Services.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled reports whether the HTTP API role is selected.
func (c *AppConfig) IsHTTPServerEnabled() bool { return c.runs(ServiceModeHTTP) }

// IsWorkerEnabled reports whether the generation worker pool is selected.
func (c *AppConfig) IsWorkerEnabled() bool { return c.runs(ServiceModeWorker) }

// IsReaperEnabled reports whether queue housekeeping is selected.
func (c *AppConfig) IsReaperEnabled() bool { return c.runs(ServiceModeReaper) }

// runs treats an unparsable Services value as selecting nothing.
func (c *AppConfig) runs(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[mode]
}
