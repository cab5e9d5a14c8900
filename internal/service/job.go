package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/target/catalogue-gen/internal/core"
	domainjob "github.com/target/catalogue-gen/internal/domain/job"
	"github.com/target/catalogue-gen/internal/domain/model"
	"github.com/target/catalogue-gen/internal/observability/notify"
	"github.com/target/catalogue-gen/internal/service/failurenotifier"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Items           core.ItemRepository       // Required: item repository
	Cache           core.StatusCache          // Optional: in-flight status cache
	DefaultLease    time.Duration             // Required: default lease duration for jobs
	Logger          *slog.Logger              // Optional: structured logger
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
	Now             func() time.Time          // Optional: clock for cache snapshots
	FailureNotifier *failurenotifier.Service  // Optional: failure notification fan-out
}

// JobService is the worker-facing side of the queue.
//
// This service manages:
// - Job reservation and lease management
// - Recording per-file results and progress
// - Terminal transitions and job-level retries
// - Keeping the status cache in step with the durable store
// - Pub/sub notification system for job availability.
type JobService struct {
	repo        core.JobRepository
	items       core.ItemRepository
	cache       core.StatusCache
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	logger      *slog.Logger
	now         func() time.Time

	failureNotifier *failurenotifier.Service
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Items == nil {
		return nil, errors.New("ItemRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
		logger.Debug("JobService initialized",
			"default_lease", leasePolicy.Default(),
			"status_cache", opts.Cache != nil,
		)
	}

	return &JobService{
		repo:        opts.Repo,
		items:       opts.Items,
		cache:       opts.Cache,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
		now:         now,

		failureNotifier: opts.FailureNotifier,
	}, nil
}

// LeaseDuration returns the lease granted when callers pass zero.
func (s *JobService) LeaseDuration() time.Duration {
	return s.leasePolicy.Default()
}

// ReserveNext reserves the oldest due job for processing.
// Returns model.ErrNoJobsAvailable when the queue is empty.
func (s *JobService) ReserveNext(ctx context.Context, lease time.Duration) (*model.GenerationJob, error) {
	seconds := s.leasePolicy.Seconds(lease)

	job, err := s.repo.ReserveNext(ctx, seconds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job reserved",
			"job_id", job.ID,
			"attempt", job.Attempts,
			"lease_seconds", seconds,
		)
	}
	s.putSnapshot(ctx, job, job.Status, job.Progress)

	return job, nil
}

// Subscribe creates a subscription for job availability notifications.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *JobService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// Heartbeat extends the lease on a job to indicate it's still being processed.
func (s *JobService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	seconds := s.leasePolicy.Seconds(extend)

	updated, err := s.repo.Heartbeat(ctx, id, seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}

	if s.logger != nil && updated {
		s.logger.DebugContext(ctx, "job heartbeat updated", "job_id", id, "extend_seconds", seconds)
	}

	return updated, nil
}

// IsCancelRequested reports whether a cancel was requested for a processing job.
func (s *JobService) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	requested, err := s.repo.IsCancelRequested(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check cancel flag for job %s: %w", id, err)
	}
	return requested, nil
}

// RecordFileResult persists the items produced for one source file once filesDone
// files of the job are finished. Progress is derived from filesDone.
func (s *JobService) RecordFileResult(
	ctx context.Context,
	job *model.GenerationJob,
	items []*model.CatalogueItem,
	filesDone int,
) error {
	progress := model.Progress(filesDone, len(job.Files))
	err := s.items.RecordFileResult(ctx, model.FileResultParams{
		JobID:     job.ID,
		Items:     items,
		FilesDone: filesDone,
		Progress:  progress,
	})
	if err != nil {
		return fmt.Errorf("record file result for job %s: %w", job.ID, err)
	}

	job.FilesDone = max(job.FilesDone, filesDone)
	if progress > job.Progress {
		job.Progress = progress
	}
	s.putSnapshot(ctx, job, model.JobStatusProcessing, job.Progress)
	return nil
}

// Complete marks a job completed with progress 100.
func (s *JobService) Complete(ctx context.Context, job *model.GenerationJob) (bool, error) {
	return s.finish(ctx, job, model.JobStatusCompleted, nil)
}

// Fail marks a job failed with the given reason.
func (s *JobService) Fail(ctx context.Context, job *model.GenerationJob, reason string) (bool, error) {
	return s.FailWithDetails(ctx, job, reason, JobFailureDetails{})
}

// JobFailureDetails captures optional context for failure notifications.
type JobFailureDetails struct {
	ErrorClass string
	Metadata   map[string]string
}

// FailWithDetails marks a job failed and, when the transition applied, notifies the
// configured failure sinks.
func (s *JobService) FailWithDetails(
	ctx context.Context,
	job *model.GenerationJob,
	reason string,
	details JobFailureDetails,
) (bool, error) {
	if reason == "" {
		return false, errors.New("failure reason required")
	}

	failed, err := s.finish(ctx, job, model.JobStatusFailed, &reason)
	if err != nil || !failed {
		return failed, err
	}
	s.notifyFailure(ctx, job, reason, details)
	return true, nil
}

// MarkCancelled finalises a job whose cancel request was observed by the worker.
func (s *JobService) MarkCancelled(ctx context.Context, job *model.GenerationJob) (bool, error) {
	return s.finish(ctx, job, model.JobStatusCancelled, nil)
}

func (s *JobService) finish(
	ctx context.Context,
	job *model.GenerationJob,
	status model.JobStatus,
	reason *string,
) (bool, error) {
	updated, err := s.repo.UpdateStatus(ctx, model.UpdateStatusParams{
		ID:     job.ID,
		Status: status,
		Error:  reason,
	})
	if err != nil {
		return false, fmt.Errorf("mark job %s %s: %w", job.ID, status, err)
	}
	if !updated {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "job status transition rejected",
				"job_id", job.ID,
				"from", job.Status,
				"to", status,
			)
		}
		return false, nil
	}

	job.Status = status
	job.Error = reason
	if status == model.JobStatusCompleted {
		job.Progress = 100
	}
	s.putSnapshot(ctx, job, status, job.Progress)
	return true, nil
}

// Requeue returns a processing job to the queue with backoff, or fails it once
// its attempts are exhausted. A pending cancel request wins over both and is not paged.
func (s *JobService) Requeue(
	ctx context.Context,
	job *model.GenerationJob,
	reason string,
) (model.RetryDecision, error) {
	decision, err := s.repo.Requeue(ctx, job.ID, reason)
	if err != nil {
		return decision, fmt.Errorf("requeue job %s: %w", job.ID, err)
	}

	status := model.JobStatusFailed
	switch {
	case decision.Cancelled:
		status = model.JobStatusCancelled
	case decision.Requeued:
		status = model.JobStatusQueued
	}
	job.Status = status
	job.Attempts = decision.Attempts
	s.putSnapshot(ctx, job, status, job.Progress)

	if status == model.JobStatusFailed {
		s.notifyFailure(ctx, job, reason, JobFailureDetails{ErrorClass: "attempts_exhausted"})
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job retry decided",
			"job_id", job.ID,
			"requeued", decision.Requeued,
			"cancelled", decision.Cancelled,
			"attempts", decision.Attempts,
			"scheduled_at", decision.ScheduledAt,
		)
	}
	return decision, nil
}

func (s *JobService) notifyFailure(
	ctx context.Context,
	job *model.GenerationJob,
	reason string,
	details JobFailureDetails,
) {
	if s.failureNotifier == nil || !s.failureNotifier.Enabled() {
		return
	}
	// Sink errors are logged by the notifier; a lost page never fails the job transition.
	_ = s.failureNotifier.NotifyJobFailure(ctx, buildJobFailurePayload(job, reason, details, s.now()))
}

func buildJobFailurePayload(
	job *model.GenerationJob,
	reason string,
	details JobFailureDetails,
	now time.Time,
) notify.JobFailurePayload {
	payload := notify.JobFailurePayload{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Files:       len(job.Files),
		Progress:    job.Progress,
		Error:       reason,
		ErrorClass:  details.ErrorClass,
		Severity:    notify.SeverityCritical,
		OccurredAt:  now.UTC(),
	}
	if len(details.Metadata) > 0 {
		payload.Metadata = make(map[string]string, len(details.Metadata))
		maps.Copy(payload.Metadata, details.Metadata)
	}
	return payload
}

// StopAllListeners stops the notification listener and closes every subscription.
func (s *JobService) StopAllListeners() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// putSnapshot refreshes the cache entry for job. Cache failures are logged only;
// Postgres stays authoritative.
func (s *JobService) putSnapshot(ctx context.Context, job *model.GenerationJob, status model.JobStatus, progress int) {
	if s.cache == nil {
		return
	}
	snap := job.Snapshot()
	snap.Status = status
	snap.Progress = progress
	snap.UpdatedAt = s.now().UTC()
	if err := s.cache.Put(ctx, snap); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status cache update failed", "job_id", job.ID, "error", err)
	}
}
