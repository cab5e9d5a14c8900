package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/target/catalogue-gen/internal/data/pgxutil"
	"github.com/target/catalogue-gen/internal/domain/model"
)

// ErrJobActive is returned when deleting a job a worker is still processing.
var ErrJobActive = errors.New("job is processing and cannot be deleted")

// SQL used by ReserveNext to atomically reserve the next job.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM catalogue_jobs
    WHERE status = 'queued' AND scheduled_at <= $1
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE catalogue_jobs j
  SET
    status = 'processing',
    attempts = j.attempts + 1,
    started_at = COALESCE(j.started_at, $1),
    lease_expires_at = $2,
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + jobColumns

// recoverExpiredSQL handles jobs whose worker stopped heartbeating. A pending cancel wins,
// then remaining attempts requeue with exponential backoff, otherwise the job fails.
const recoverExpiredSQL = `
  UPDATE catalogue_jobs
  SET
    status = CASE
      WHEN cancel_requested THEN 'cancelled'
      WHEN attempts < max_attempts THEN 'queued'
      ELSE 'failed'
    END,
    error = CASE
      WHEN cancel_requested OR attempts < max_attempts THEN error
      ELSE $4
    END,
    scheduled_at = CASE
      WHEN NOT cancel_requested AND attempts < max_attempts
        THEN $1::timestamptz + make_interval(secs => LEAST($3::double precision,
                                              $2::double precision * power(2, GREATEST(attempts - 1, 0))))
      ELSE scheduled_at
    END,
    completed_at = CASE
      WHEN cancel_requested OR attempts >= max_attempts THEN $1::timestamptz
      ELSE NULL
    END,
    lease_expires_at = NULL,
    updated_at = $1
  WHERE status = 'processing'
    AND lease_expires_at IS NOT NULL
    AND lease_expires_at < $1
  RETURNING id::text, status, progress, created_at, updated_at`

// Advisory lock key serialising lease recovery across workers and the reaper.
const advisoryLockRecoverMajor, advisoryLockRecoverMinor = 2001, 1

// leaseExhaustedMessage is recorded when a job's final attempt lost its worker.
const leaseExhaustedMessage = "worker stopped responding; retry attempts exhausted"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner, extra ...any) (*model.GenerationJob, error) {
	job := &model.GenerationJob{}
	var files []byte
	dest := []any{
		&job.ID,
		&job.OwnerID,
		&job.Status,
		&job.Progress,
		&job.FilesDone,
		&files,
		&job.Error,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CancelRequested,
		&job.ScheduledAt,
		&job.LeaseExpiresAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(files) > 0 {
		if err := json.Unmarshal(files, &job.Files); err != nil {
			return nil, fmt.Errorf("decode job files: %w", err)
		}
	}
	return job, nil
}

// validJobID guards queries against ids Postgres would reject as malformed UUIDs.
func validJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Create persists a new queued job and wakes idle workers.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.GenerationJob, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	files, err := json.Marshal(req.Files)
	if err != nil {
		return nil, fmt.Errorf("marshal files: %w", err)
	}
	maxAttempts := r.retry.MaxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}
	now := r.timeProvider.Now().UTC()

	var job *model.GenerationJob
	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, `
				INSERT INTO catalogue_jobs AS j
					(id, owner_id, status, progress, files, max_attempts, scheduled_at, created_at, updated_at)
				VALUES ($1, $2, 'queued', 0, $3, $4, $5, $5, $5)
				RETURNING `+jobColumns,
				uuid.NewString(), req.OwnerID, files, maxAttempts, now)
			var scanErr error
			job, scanErr = scanJob(row)
			if scanErr != nil {
				return fmt.Errorf("insert job: %w", scanErr)
			}
			if _, notifyErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel, job.ID); notifyErr != nil {
				return fmt.Errorf("send job notification: %w", notifyErr)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RecoverExpired requeues or fails processing jobs whose lease has lapsed and returns
// the number of rows touched. Concurrent callers skip when another holds the lock. After
// commit the status cache, if any, is brought in line with the recovered rows.
func (r *JobRepo) RecoverExpired(ctx context.Context) (int64, error) {
	var recovered []model.JobSnapshot
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockRecoverMajor, advisoryLockRecoverMinor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			rows, err := tx.QueryContext(ctx, recoverExpiredSQL,
				r.timeProvider.Now().UTC(),
				r.retry.BaseDelay.Seconds(),
				r.maxDelay().Seconds(),
				leaseExhaustedMessage,
			)
			if err != nil {
				return fmt.Errorf("recover expired: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var snap model.JobSnapshot
				if err := rows.Scan(&snap.JobID, &snap.Status, &snap.Progress, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
					return fmt.Errorf("scan recovered job: %w", err)
				}
				recovered = append(recovered, snap)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return 0, err
	}
	r.publishRecovered(ctx, recovered)
	return int64(len(recovered)), nil
}

// publishRecovered overwrites cached snapshots with the recovered state. A snapshot that
// cannot be written is evicted so reads fall through to Postgres.
func (r *JobRepo) publishRecovered(ctx context.Context, snaps []model.JobSnapshot) {
	if r.cache == nil {
		return
	}
	for _, snap := range snaps {
		err := r.cache.Put(ctx, snap)
		if err == nil {
			continue
		}
		r.logger.WarnContext(ctx, "status cache update after recovery failed", "job_id", snap.JobID, "error", err)
		if derr := r.cache.Delete(ctx, snap.JobID); derr != nil {
			r.logger.WarnContext(ctx, "status cache eviction after recovery failed", "job_id", snap.JobID, "error", derr)
		}
	}
}

func (r *JobRepo) maxDelay() time.Duration {
	if r.retry.MaxDelay > 0 {
		return r.retry.MaxDelay
	}
	return 24 * time.Hour
}

// ReserveNext moves the oldest ready job to processing under a lease. Only one caller can
// win a given row; the rest skip it. Returns model.ErrNoJobsAvailable when nothing is ready.
func (r *JobRepo) ReserveNext(ctx context.Context, leaseSeconds int) (*model.GenerationJob, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}
	if recovered, err := r.RecoverExpired(ctx); err != nil {
		return nil, fmt.Errorf("recover expired jobs: %w", err)
	} else if recovered > 0 {
		r.logger.InfoContext(ctx, "recovered jobs with expired leases", "count", recovered)
	}

	var job *model.GenerationJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

			j, err := scanJob(tx.QueryRow(ctx, reserveNextUpdateSQL, now, leaseExpiresAt))
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if err != nil {
				return fmt.Errorf("reserve job: %w", err)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a processing job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}
	if !validJobID(jobID) {
		return false, nil
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE catalogue_jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, jobID, now.Add(time.Duration(leaseSeconds)*time.Second), now)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// UpdateProgress raises a processing job's progress. Progress never decreases.
func (r *JobRepo) UpdateProgress(ctx context.Context, jobID string, progress int) (bool, error) {
	if !validJobID(jobID) {
		return false, ErrJobNotFound
	}
	progress = clampProgress(progress)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE catalogue_jobs
		SET progress = GREATEST(progress, $2),
		    updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, jobID, progress, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update progress rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// allowedPriorStatuses lists the statuses from which target is reachable.
func allowedPriorStatuses(target model.JobStatus) []string {
	var out []string
	for _, s := range []model.JobStatus{
		model.JobStatusQueued,
		model.JobStatusProcessing,
		model.JobStatusCompleted,
		model.JobStatusFailed,
		model.JobStatusCancelled,
	} {
		if s.CanTransitionTo(target) {
			out = append(out, string(s))
		}
	}
	return out
}

// UpdateStatus applies a state transition. It returns false when the current status does
// not allow the transition (for example the job is already terminal).
func (r *JobRepo) UpdateStatus(ctx context.Context, p model.UpdateStatusParams) (bool, error) {
	if !p.Status.Valid() {
		return false, fmt.Errorf("invalid job status: %q", p.Status)
	}
	if !validJobID(p.ID) {
		return false, ErrJobNotFound
	}
	prior := allowedPriorStatuses(p.Status)
	if len(prior) == 0 {
		return false, nil
	}

	now := r.timeProvider.Now().UTC()
	var updated bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE catalogue_jobs
			SET status = $2,
			    error = $3,
			    progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
			    started_at = CASE WHEN $2 = 'processing' THEN COALESCE(started_at, $4) ELSE started_at END,
			    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN $4 ELSE completed_at END,
			    lease_expires_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN NULL ELSE lease_expires_at END,
			    updated_at = $4
			WHERE id = $1 AND status = ANY($5)
		`, p.ID, string(p.Status), p.Error, now, prior)
		if err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		updated = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// Requeue releases a processing job held by this worker. If attempts remain the job
// returns to queued after the backoff delay; otherwise it fails with reason.
func (r *JobRepo) Requeue(ctx context.Context, jobID, reason string) (model.RetryDecision, error) {
	var decision model.RetryDecision
	if !validJobID(jobID) {
		return decision, ErrJobNotFound
	}

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var attempts, maxAttempts int
			var cancelRequested bool
			err := tx.QueryRow(ctx, `
				SELECT attempts, max_attempts, cancel_requested
				FROM catalogue_jobs
				WHERE id = $1 AND status = 'processing'
				FOR UPDATE
			`, jobID).Scan(&attempts, &maxAttempts, &cancelRequested)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrJobNotActive
			}
			if err != nil {
				return fmt.Errorf("lock job for requeue: %w", err)
			}

			now := r.timeProvider.Now().UTC()
			decision.Attempts = attempts
			switch {
			case cancelRequested:
				decision.Cancelled = true
				_, err = tx.Exec(ctx, `
					UPDATE catalogue_jobs
					SET status = 'cancelled', completed_at = $2, lease_expires_at = NULL, updated_at = $2
					WHERE id = $1
				`, jobID, now)
			case attempts < maxAttempts:
				decision.Requeued = true
				decision.ScheduledAt = now.Add(r.retry.Delay(attempts))
				_, err = tx.Exec(ctx, `
					UPDATE catalogue_jobs
					SET status = 'queued', scheduled_at = $2, lease_expires_at = NULL, updated_at = $3
					WHERE id = $1
				`, jobID, decision.ScheduledAt, now)
			default:
				_, err = tx.Exec(ctx, `
					UPDATE catalogue_jobs
					SET status = 'failed', error = $2, completed_at = $3, lease_expires_at = NULL, updated_at = $3
					WHERE id = $1
				`, jobID, reason, now)
			}
			if err != nil {
				return fmt.Errorf("requeue job: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return model.RetryDecision{}, err
	}
	return decision, nil
}

// RequestCancel cancels a queued job outright or flags a processing one so its worker
// stops at the next file boundary. Unknown and terminal jobs are rejected.
func (r *JobRepo) RequestCancel(ctx context.Context, jobID string) (model.CancelOutcome, error) {
	if !validJobID(jobID) {
		return model.CancelRejected, nil
	}

	var status model.JobStatus
	err := r.DB.QueryRowContext(ctx, `
		UPDATE catalogue_jobs
		SET status = CASE WHEN status = 'queued' THEN 'cancelled' ELSE status END,
		    cancel_requested = CASE WHEN status = 'processing' THEN TRUE ELSE cancel_requested END,
		    completed_at = CASE WHEN status = 'queued' THEN $2 ELSE completed_at END,
		    updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'processing')
		RETURNING status
	`, jobID, r.timeProvider.Now().UTC()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CancelRejected, nil
	}
	if err != nil {
		return model.CancelRejected, fmt.Errorf("request cancel: %w", err)
	}
	if status == model.JobStatusCancelled {
		return model.CancelImmediate, nil
	}
	return model.CancelRequested, nil
}

// IsCancelRequested reports whether a cancel was requested for a processing job.
func (r *JobRepo) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	if !validJobID(jobID) {
		return false, ErrJobNotFound
	}
	var requested bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT cancel_requested FROM catalogue_jobs WHERE id = $1`, jobID).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	return requested, nil
}

// WaitForNotification blocks until a job-added notification arrives or ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{notifyChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job with the ids of its items in creation order.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	if !validJobID(id) {
		return nil, ErrJobNotFound
	}

	var job *model.GenerationJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var itemIDs []string
		j, err := scanJob(conn.QueryRow(ctx, `
			SELECT `+jobColumns+`,
			       ARRAY(SELECT i.id::text FROM catalogue_items i WHERE i.job_id = j.id ORDER BY i.seq)
			FROM catalogue_jobs j
			WHERE j.id = $1
		`, id), &itemIDs)
		if err != nil {
			return err
		}
		j.ItemIDs = itemIDs
		job = j
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Delete removes a job and, through the foreign key, all of its items.
// Processing jobs are refused so a live worker never writes into a deleted row.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	if !validJobID(id) {
		return ErrJobNotFound
	}

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM catalogue_jobs
		WHERE id = $1 AND status <> 'processing'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrJobActive
}
