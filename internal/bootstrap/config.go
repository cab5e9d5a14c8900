package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/target/catalogue-gen/config"
)

// envFilesVar lists dotenv files to load, comma separated. Defaults to ".env".
const envFilesVar = "ENV_FILES"

// InitLogger installs the process-wide slog logger: JSON on stdout in production,
// text with source locations in dev mode.
func InitLogger(cfg *config.AppConfig) *slog.Logger {
	return initLogger(os.Stdout, cfg)
}

func initLogger(w io.Writer, cfg *config.AppConfig) *slog.Logger {
	var (
		level slog.Leveler = slog.LevelInfo
		dev   bool
	)
	if cfg != nil {
		level, dev = cfg.LogLevel, cfg.IsDev
	}

	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, AddSource: true})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler).With("app", "catalogue-gen")
	slog.SetDefault(logger)
	return logger
}

// LoadConfig reads dotenv files (missing files are skipped) and then parses the
// environment into an AppConfig. Variables already set in the environment win over
// dotenv values.
func LoadConfig() (config.AppConfig, error) {
	if err := loadEnvFiles(envFileList(os.Getenv(envFilesVar))); err != nil {
		return config.AppConfig{}, err
	}

	cfg, err := env.ParseAs[config.AppConfig]()
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

func envFileList(raw string) []string {
	var files []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, filepath.Clean(f))
		}
	}
	if len(files) == 0 {
		return []string{".env"}
	}
	return files
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		err := godotenv.Load(f)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("load env file %s: %w", f, err)
	}
	return nil
}

// ValidateServiceConfig rejects unknown service names and configs that enable nothing.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	return nil
}

// GetEnabledServices returns the enabled service names sorted, or nothing when the
// service list does not parse.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return []string{}
	}

	names := make([]string, 0, len(services))
	for svc, on := range services {
		if on {
			names = append(names, string(svc))
		}
	}
	slices.Sort(names)
	return names
}
