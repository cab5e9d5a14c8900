package data

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/target/catalogue-gen/internal/migrate"
)

// RunMigrations creates or upgrades the catalogue_jobs and catalogue_items schema.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return migrate.Run(ctx, db, logger)
}
