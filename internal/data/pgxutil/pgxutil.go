// Package pgxutil bridges database/sql pools to native pgx connections and
// transactions for the catalogue repositories.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// SQLTxConfig describes a database/sql transaction body.
type SQLTxConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
}

// TxConfig describes a pgx transaction body.
type TxConfig struct {
	Opts *sql.TxOptions
	Fn   func(pgx.Tx) error
}

// ErrNotPgx is returned when the pool is not backed by the pgx stdlib driver.
var ErrNotPgx = errors.New("driver connection is not *stdlib.Conn")

// WithSQLTx runs cfg.Fn in a database/sql transaction and commits when it returns nil.
// On failure the transaction is rolled back and a rollback error is joined onto Fn's.
func WithSQLTx(ctx context.Context, db *sql.DB, cfg SQLTxConfig) error {
	tx, err := db.BeginTx(ctx, cfg.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := cfg.Fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgxIsolation maps database/sql levels onto what Postgres offers. Snapshot and
// linearizable take the nearest stronger level; anything missing uses the server default.
var pgxIsolation = map[sql.IsolationLevel]pgx.TxIsoLevel{
	sql.LevelReadUncommitted: pgx.ReadUncommitted,
	sql.LevelReadCommitted:   pgx.ReadCommitted,
	sql.LevelWriteCommitted:  pgx.ReadCommitted,
	sql.LevelRepeatableRead:  pgx.RepeatableRead,
	sql.LevelSnapshot:        pgx.RepeatableRead,
	sql.LevelSerializable:    pgx.Serializable,
	sql.LevelLinearizable:    pgx.Serializable,
}

// ToPgxTxOptions converts database/sql options; nil means pgx defaults.
func ToPgxTxOptions(opts *sql.TxOptions) pgx.TxOptions {
	if opts == nil {
		return pgx.TxOptions{}
	}
	mode := pgx.ReadWrite
	if opts.ReadOnly {
		mode = pgx.ReadOnly
	}
	return pgx.TxOptions{IsoLevel: pgxIsolation[opts.Isolation], AccessMode: mode}
}

// WithPgxConn pins one pooled connection and hands its *pgx.Conn to fn.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer conn.Close() //nolint:errcheck // returning the conn to the pool cannot fail meaningfully

	return conn.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return ErrNotPgx
		}
		return fn(std.Conn())
	})
}

// WithPgxTx runs cfg.Fn in a pgx transaction on a pinned pool connection. pgx commits
// when Fn returns nil and rolls back otherwise.
func WithPgxTx(ctx context.Context, db *sql.DB, cfg TxConfig) error {
	return WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		return pgx.BeginTxFunc(ctx, conn, ToPgxTxOptions(cfg.Opts), cfg.Fn)
	})
}
