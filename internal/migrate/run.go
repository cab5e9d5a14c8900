// Package migrate applies the embedded catalogue schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockKey serialises concurrent migrators; every replica may run migrations on start.
const lockKey int64 = 0x63617467 // "catg"

const createVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// Run applies every embedded migration that has not been recorded yet, each in its own
// transaction. Concurrent callers queue on a session advisory lock, so it is safe to run
// from every replica on start.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrations")

	files, err := migrationFiles(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// Unlock even when ctx is done, or the session keeps the lock until the conn dies.
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey); uerr != nil {
			logger.WarnContext(ctx, "release migration lock", "error", uerr)
		}
	}()

	if _, err := conn.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	var applied int
	for _, file := range files {
		v := version(file)
		if done[v] {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join("migrations", file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		logger.InfoContext(ctx, "applying migration", "version", v)
		if err := apply(ctx, conn, v, string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", v, err)
		}
		applied++
	}
	logger.DebugContext(ctx, "migrations up to date", "applied", applied, "known", len(files))
	return nil
}

// migrationFiles lists the top-level .sql files under migrations/ in version order.
func migrationFiles(fsys fs.FS) ([]string, error) {
	matches, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, path.Base(m))
	}
	slices.Sort(files)
	return files, nil
}

func version(file string) string {
	return strings.TrimSuffix(file, ".sql")
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// apply runs one migration body and records its version atomically.
func apply(ctx context.Context, conn *sql.Conn, v, body string) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, v); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
