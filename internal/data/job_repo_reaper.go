package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/catalogue-gen/internal/core"
)

// Retention deletes take pg_try_advisory_xact_lock(2002, hashtext(status)), so two
// reapers never sweep the same status at once while different statuses proceed in parallel.
const advisoryLockReaperMajor = 2002

// deleteOldJobsSQL runs as one statement, so the transaction-scoped lock is released as
// soon as the batch is gone. When the lock is held elsewhere the doomed set is empty.
const deleteOldJobsSQL = `
WITH lock AS (
	SELECT pg_try_advisory_xact_lock($1::integer, hashtext($2)) AS acquired
), doomed AS (
	SELECT j.id
	FROM catalogue_jobs j, lock
	WHERE lock.acquired
	  AND j.status = $2
	  AND COALESCE(j.completed_at, j.updated_at) < $3
	ORDER BY COALESCE(j.completed_at, j.updated_at)
	LIMIT $4
	FOR UPDATE OF j SKIP LOCKED
), deleted AS (
	DELETE FROM catalogue_jobs WHERE id IN (SELECT id FROM doomed)
	RETURNING 1
)
SELECT count(*) FROM deleted`

func validateDeleteParams(p core.DeleteOldJobsParams) error {
	switch {
	case !p.Status.Terminal():
		return fmt.Errorf("refusing to delete jobs in non-terminal status %q", p.Status)
	case p.BatchSize <= 0:
		return errors.New("batch size must be greater than zero")
	case p.MaxAge <= 0:
		return errors.New("max age must be greater than zero")
	}
	return nil
}

// DeleteOldJobs deletes up to BatchSize terminal jobs in params.Status whose completion
// is older than MaxAge, oldest first. Items go with them through ON DELETE CASCADE.
// Artifacts in storage are left alone.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if err := validateDeleteParams(params); err != nil {
		return 0, err
	}

	cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
	var deleted int64
	if err := r.DB.QueryRowContext(ctx, deleteOldJobsSQL,
		advisoryLockReaperMajor, string(params.Status), cutoff, params.BatchSize,
	).Scan(&deleted); err != nil {
		return 0, fmt.Errorf("delete old %s jobs: %w", params.Status, err)
	}
	return deleted, nil
}
