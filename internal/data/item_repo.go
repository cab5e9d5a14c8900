package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/target/catalogue-gen/internal/data/pgxutil"
	"github.com/target/catalogue-gen/internal/domain/model"
)

// ItemRepo persists generated catalogue items.
type ItemRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewItemRepo creates a new ItemRepo.
func NewItemRepo(db *sql.DB, cfg RepoConfig) *ItemRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemRepo{DB: db, timeProvider: tp, logger: logger.With("component", "item_repo")}
}

const itemColumns = `id::text, job_id::text, title, type, thumbnail_ref, asset_ref, metadata, created_at`

// execer is satisfied by both *pgx.Conn and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func validateItem(item *model.CatalogueItem) error {
	if item == nil {
		return errors.New("item is required")
	}
	if item.JobID == "" {
		return ErrJobIDRequired
	}
	if !item.Type.Valid() {
		return fmt.Errorf("invalid item type: %q", item.Type)
	}
	if item.Title == "" || item.AssetRef == "" || item.ThumbnailRef == "" {
		return errors.New("item title, asset and thumbnail are required")
	}
	return nil
}

// insertItem writes an item only while its job is processing, keeping terminal jobs immutable.
func insertItem(ctx context.Context, db execer, item *model.CatalogueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal item metadata: %w", err)
	}

	tag, err := db.Exec(ctx, `
		INSERT INTO catalogue_items (id, job_id, title, type, thumbnail_ref, asset_ref, metadata, created_at)
		SELECT $1, j.id, $3, $4, $5, $6, $7, $8
		FROM catalogue_jobs j
		WHERE j.id = $2 AND j.status = 'processing'
	`, item.ID, item.JobID, item.Title, string(item.Type), item.ThumbnailRef, item.AssetRef, meta, item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrJobNotFound
		}
		return fmt.Errorf("insert item: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM catalogue_jobs WHERE id = $1)`, item.JobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job for item: %w", err)
	}
	if !exists {
		return ErrJobNotFound
	}
	return ErrJobNotActive
}

// AppendItem persists one item for a processing job.
func (r *ItemRepo) AppendItem(ctx context.Context, item *model.CatalogueItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	if !validJobID(item.JobID) {
		return ErrJobNotFound
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = r.timeProvider.Now().UTC()
	}
	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return insertItem(ctx, conn, item)
	})
}

// RecordFileResult stores a file's items and advances job progress and files_done in
// one transaction, so a redelivered job never sees half a file.
// Returns ErrJobNotActive when the job stopped processing (for example it was deleted).
func (r *ItemRepo) RecordFileResult(ctx context.Context, p model.FileResultParams) error {
	if !validJobID(p.JobID) {
		return ErrJobNotFound
	}
	if p.FilesDone < 0 {
		return fmt.Errorf("files done must not be negative: %d", p.FilesDone)
	}
	for _, item := range p.Items {
		item.JobID = p.JobID
		if err := validateItem(item); err != nil {
			return err
		}
	}

	now := r.timeProvider.Now().UTC()
	return pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE catalogue_jobs
				SET progress = GREATEST(progress, $2),
				    files_done = GREATEST(files_done, $4),
				    updated_at = $3
				WHERE id = $1 AND status = 'processing'
			`, p.JobID, clampProgress(p.Progress), now, p.FilesDone)
			if err != nil {
				return fmt.Errorf("update progress: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrJobNotActive
			}
			for _, item := range p.Items {
				if item.CreatedAt.IsZero() {
					item.CreatedAt = now
				}
				if err := insertItem(ctx, tx, item); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func scanItem(row rowScanner) (*model.CatalogueItem, error) {
	item := &model.CatalogueItem{}
	var meta []byte
	if err := row.Scan(&item.ID, &item.JobID, &item.Title, &item.Type,
		&item.ThumbnailRef, &item.AssetRef, &meta, &item.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode item metadata: %w", err)
		}
	}
	item.DownloadURL = model.DownloadPath(item.ID)
	return item, nil
}

// ListByJob returns a job's items in creation order.
func (r *ItemRepo) ListByJob(ctx context.Context, jobID string) ([]*model.CatalogueItem, error) {
	if !validJobID(jobID) {
		return []*model.CatalogueItem{}, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM catalogue_items
		WHERE job_id = $1
		ORDER BY seq
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []*model.CatalogueItem{}
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan item: %w", scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// GetItem retrieves one item by id.
func (r *ItemRepo) GetItem(ctx context.Context, itemID string) (*model.CatalogueItem, error) {
	if !validJobID(itemID) {
		return nil, ErrItemNotFound
	}
	item, err := scanItem(r.DB.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM catalogue_items WHERE id = $1`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}
