package config

import "time"

// DBConfig locates the Postgres database that holds the job queue and catalogue items.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"catalogue"`
	Password string `env:"PASSWORD" envDefault:"catalogue"`
	Name     string `env:"NAME"     envDefault:"catalogue"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"`

	// Pool sizing for the shared *sql.DB; workers, the reaper and the API all draw from it.
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`

	// RunMigrationsOnStart applies embedded migrations under an advisory lock before roles start.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig configures the optional job status cache. URI accepts host:port or a
// redis:// URL; sentinel and cluster modes take their own node lists.
type RedisConfig struct {
	// Enabled turns the status cache on. When off, status reads go straight to Postgres.
	Enabled            bool     `env:"ENABLED"              envDefault:"true"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
