package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"net"
	"net/url"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/target/catalogue-gen/internal/migrate"
)

// TestDBConfig holds connection settings for the test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* variables. The default port 55432 matches the
// local compose test profile; CI sets TEST_DB_PORT=5432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     envOr("TEST_DB_PORT", "55432"),
		User:     envOr("TEST_DB_USER", "catalogue"),
		Password: envOr("TEST_DB_PASSWORD", "catalogue"),
		DBName:   envOr("TEST_DB_NAME", "catalogue"),
	}
}

// DSN returns the connection URL, optionally pinned to a search_path.
func (c TestDBConfig) DSN(searchPath string) string {
	q := url.Values{"sslmode": {envOr("DB_SSL_MODE", "disable")}}
	if searchPath != "" {
		q.Set("search_path", searchPath)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func openAndPing(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SkipIfNoTestDB skips (or fails, with TEST_REQUIRE_DB) when Postgres is unreachable.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	db, err := openAndPing(DefaultTestDBConfig().DSN(""), 2*time.Second)
	if err != nil {
		skipOrFail(t, requireDB(), "test database not available: %v", err)
		return
	}
	_ = db.Close()
}

func migrateDB(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db, nil); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

// SetupTestDB connects to the shared test database, migrates it and empties the catalogue tables.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := openAndPing(DefaultTestDBConfig().DSN(""), 5*time.Second)
	if err != nil {
		t.Fatalf("connect to test database (is the compose test profile up?): %v", err)
	}
	migrateDB(t, db)
	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB deletes every job and item.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// TRUNCATE would take an ACCESS EXCLUSIVE lock and stall workers left over from a failed test.
	for _, table := range []string{"catalogue_items", "catalogue_jobs"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean up %s: %v", table, err)
		}
	}
}

// SetupEphemeralSchemaDB migrates a fresh schema for this test and drops it on cleanup,
// so packages can run their integration tests in parallel against one server.
func SetupEphemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)
	cfg := DefaultTestDBConfig()

	admin, err := openAndPing(cfg.DSN(""), 5*time.Second)
	if err != nil {
		t.Fatalf("open admin connection: %v", err)
	}

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	schema := "t_" + hex.EncodeToString(suffix)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db, err := openAndPing(cfg.DSN(schema+",public"), 10*time.Second)
	if err != nil {
		_ = admin.Close()
		t.Fatalf("open schema connection: %v", err)
	}
	db.SetMaxOpenConns(10)

	t.Logf("using ephemeral schema %s", schema)
	onCleanup(t, func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ccancel()
		_ = db.Close()
		if _, err := admin.ExecContext(cctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		_ = admin.Close()
	})

	migrateDB(t, db)
	return db
}

// WithAutoDB runs fn against an ephemeral schema when TEST_DB_EPHEMERAL is set and the
// shared test database otherwise. Skips when Postgres is unavailable.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	if envBool("TEST_DB_EPHEMERAL") {
		fn(SetupEphemeralSchemaDB(t))
		return
	}
	db := SetupTestDB(t)
	defer func() {
		CleanupTestDB(t, db)
		if err := db.Close(); err != nil {
			t.Logf("close test database: %v", err)
		}
	}()
	fn(db)
}

// JobStateInfo is a compact row view used when a queue test fails.
type JobStateInfo struct {
	ID          string
	Status      string
	Progress    int
	Attempts    int
	MaxAttempts int
	Error       *string
}

// InspectJobStates returns every job in creation order.
func InspectJobStates(t TestingTB, db *sql.DB) []JobStateInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT id::text, status, progress, attempts, max_attempts, error
		FROM catalogue_jobs
		ORDER BY created_at, id
	`)
	if err != nil {
		t.Fatalf("query job states: %v", err)
	}
	defer rows.Close()

	var out []JobStateInfo
	for rows.Next() {
		var j JobStateInfo
		if err := rows.Scan(&j.ID, &j.Status, &j.Progress, &j.Attempts, &j.MaxAttempts, &j.Error); err != nil {
			t.Fatalf("scan job state: %v", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate job states: %v", err)
	}
	return out
}

// LogJobStates dumps the queue to the test log.
func LogJobStates(t TestingTB, db *sql.DB, label string) {
	t.Helper()
	t.Logf("--- jobs: %s ---", label)
	for _, j := range InspectJobStates(t, db) {
		errText := ""
		if j.Error != nil {
			errText = *j.Error
		}
		t.Logf("%s status=%s progress=%d attempts=%d/%d error=%q",
			j.ID, j.Status, j.Progress, j.Attempts, j.MaxAttempts, errText)
	}
}
