package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/catalogue-gen/internal/data/pgxutil"
	"github.com/target/catalogue-gen/internal/domain/model"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// NormalizeListOptions applies page and limit defaults.
func NormalizeListOptions(opts model.ListJobsOptions) model.ListJobsOptions {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	return opts
}

// ListByOwner returns one page of an owner's jobs, newest first, with the total count.
func (r *JobRepo) ListByOwner(ctx context.Context, opts model.ListJobsOptions) (*model.JobPage, error) {
	if opts.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	opts = NormalizeListOptions(opts)

	page := &model.JobPage{Jobs: []*model.GenerationJob{}}
	var total int
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if err := conn.QueryRow(ctx,
			`SELECT count(*) FROM catalogue_jobs WHERE owner_id = $1`, opts.OwnerID).Scan(&total); err != nil {
			return fmt.Errorf("count jobs by owner: %w", err)
		}

		rows, err := conn.Query(ctx, `
			SELECT `+jobColumns+`,
			       ARRAY(SELECT i.id::text FROM catalogue_items i WHERE i.job_id = j.id ORDER BY i.seq)
			FROM catalogue_jobs j
			WHERE j.owner_id = $1
			ORDER BY j.created_at DESC, j.id DESC
			LIMIT $2 OFFSET $3
		`, opts.OwnerID, opts.Limit, opts.Offset())
		if err != nil {
			return fmt.Errorf("query jobs by owner: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var itemIDs []string
			job, scanErr := scanJob(rows, &itemIDs)
			if scanErr != nil {
				return fmt.Errorf("scan job: %w", scanErr)
			}
			job.ItemIDs = itemIDs
			page.Jobs = append(page.Jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	page.Pagination = model.NewPagination(opts.Page, opts.Limit, total)
	return page, nil
}

// CountByStatus returns the number of jobs in each status.
func (r *JobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM catalogue_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status model.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}
