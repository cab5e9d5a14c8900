// Package jobrunner provides the worker pool that drives catalogue generation jobs.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/data"
	"github.com/target/catalogue-gen/internal/domain/model"
	obserrors "github.com/target/catalogue-gen/internal/observability/errors"
	"github.com/target/catalogue-gen/internal/observability/metrics"
	"github.com/target/catalogue-gen/internal/observability/statsd"
	"github.com/target/catalogue-gen/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLease        = 2 * time.Minute
	defaultIdlePoll     = 5 * time.Second
	finalizeTimeout     = 15 * time.Second
	shutdownRequeueNote = "worker shut down before the job finished"
)

// RunnerOptions configures the catalogue job runner.
type RunnerOptions struct {
	Jobs      *service.JobService   // Required: queue operations
	Generator core.ContentGenerator // Required: per-file generation
	Logger    *slog.Logger          // Optional: structured logger
	Metrics   statsd.Sink           // Optional: metrics sink

	Lease       time.Duration // per-job lease duration; defaults to the job service lease
	Concurrency int           // number of worker goroutines; defaults to 1
	IdlePoll    time.Duration // re-check interval while idle so delayed retries are picked up; defaults to 5s
}

// Runner reserves jobs from the queue and processes their files in order.
type Runner struct {
	jobs      *service.JobService
	generator core.ContentGenerator
	logger    *slog.Logger
	metrics   statsd.Sink
	lease     time.Duration
	workers   int
	idlePoll  time.Duration
}

// NewRunner creates a new catalogue job runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job runner requires a JobService")
	}
	if opts.Generator == nil {
		return nil, errors.New("job runner requires a ContentGenerator")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = opts.Jobs.LeaseDuration()
	}
	if lease <= 0 {
		lease = defaultLease
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	idlePoll := opts.IdlePoll
	if idlePoll <= 0 {
		idlePoll = defaultIdlePoll
	}

	return &Runner{
		jobs:      opts.Jobs,
		generator: opts.Generator,
		logger:    logger.With("component", "job_runner"),
		metrics:   opts.Metrics,
		lease:     lease,
		workers:   workers,
		idlePoll:  idlePoll,
	}, nil
}

// Run starts the worker pool and blocks until ctx is cancelled or a worker fails.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting catalogue job runner", "workers", r.workers, "lease", r.lease)

	group, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		group.Go(func() error { return r.runWorkerLoop(gctx) })
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) runWorkerLoop(ctx context.Context) error {
	unsub, ch := r.jobs.Subscribe()
	defer unsub()

	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, ch) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			// A database blip should not take the whole pool down.
			r.logger.ErrorContext(ctx, "failed to reserve next catalogue job", "error", err)
			if !r.waitForNotify(ctx, nil) {
				return nil
			}
		}
	}
	return nil
}

// outcome is how a job's file loop ended.
type outcome struct {
	transition string
	files      int
	items      int
	err        error
	lost       bool
	failedFile string
}

func (r *Runner) processJob(ctx context.Context, job *model.GenerationJob) {
	logger := r.logger.With("job_id", job.ID, "attempt", job.Attempts)
	logger.InfoContext(ctx, "processing catalogue job", "files", len(job.Files))

	stopHB := r.startHeartbeat(ctx, job.ID)
	defer stopHB()

	start := time.Now()
	out := r.processFiles(ctx, job, logger)

	// Terminal writes must land even when shutdown cancelled ctx.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	r.finalize(fctx, job, out, time.Since(start), logger)
}

func (r *Runner) processFiles(ctx context.Context, job *model.GenerationJob, logger *slog.Logger) outcome {
	var out outcome
	total := len(job.Files)
	if job.FilesDone > 0 {
		logger.InfoContext(ctx, "resuming redelivered job", "files_done", job.FilesDone, "files_total", total)
	}

	for i := min(job.FilesDone, total); i < total; i++ {
		file := job.Files[i]
		if ctx.Err() != nil {
			out.transition = metrics.TransitionRequeued
			out.err = ctx.Err()
			return out
		}

		cancelled, err := r.jobs.IsCancelRequested(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				out.transition = metrics.TransitionRequeued
				out.err = ctx.Err()
				return out
			}
			logger.WarnContext(ctx, "cancel flag check failed; continuing", "error", err)
		}
		if cancelled {
			logger.InfoContext(ctx, "cancel observed between files", "files_done", i, "files_total", total)
			out.transition = metrics.TransitionCancelled
			return out
		}

		items, err := r.generator.ProcessFile(ctx, job.ID, file)
		if err != nil {
			if ctx.Err() != nil {
				out.transition = metrics.TransitionRequeued
				out.err = ctx.Err()
				return out
			}
			out.transition = metrics.TransitionFailed
			out.failedFile = file.BaseName()
			out.err = fmt.Errorf("file %d (%s): %w", i+1, file.BaseName(), err)
			return out
		}

		if err := r.jobs.RecordFileResult(ctx, job, items, i+1); err != nil {
			switch {
			case errors.Is(err, data.ErrJobNotActive):
				out.lost = true
			case ctx.Err() != nil:
				out.transition = metrics.TransitionRequeued
			default:
				out.transition = metrics.TransitionFailed
			}
			out.err = err
			return out
		}

		out.files++
		out.items += len(items)
		logger.DebugContext(ctx, "file processed",
			"file", file.BaseName(),
			"items", len(items),
			"progress", job.Progress,
		)
	}

	out.transition = metrics.TransitionCompleted
	return out
}

func (r *Runner) finalize(ctx context.Context, job *model.GenerationJob, out outcome, elapsed time.Duration, logger *slog.Logger) {
	if out.lost {
		// Deleted or recovered by the reaper while we worked; nothing left to finalize.
		logger.WarnContext(ctx, "job no longer processing; dropping results", "error", out.err)
		return
	}

	var (
		applied bool
		err     error
	)
	switch out.transition {
	case metrics.TransitionCompleted:
		applied, err = r.jobs.Complete(ctx, job)
	case metrics.TransitionCancelled:
		applied, err = r.jobs.MarkCancelled(ctx, job)
	case metrics.TransitionFailed:
		logger.ErrorContext(ctx, "catalogue job failed", "error", out.err)
		applied, err = r.jobs.FailWithDetails(ctx, job, out.err.Error(), failureDetails(out))
	case metrics.TransitionRequeued:
		var decision model.RetryDecision
		decision, err = r.jobs.Requeue(ctx, job, shutdownRequeueNote)
		applied = decision.Requeued || decision.Cancelled
		if decision.Cancelled {
			out.transition = metrics.TransitionCancelled
		}
	}

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "failed to finalize job", "transition", out.transition, "error", err)
		result = metrics.ResultError
	case !applied:
		result = metrics.ResultNoop
	case out.transition == metrics.TransitionFailed:
		result = metrics.ResultError
		err = out.err
	default:
		logger.InfoContext(ctx, "catalogue job finalized",
			"transition", out.transition,
			"files", out.files,
			"items", out.items,
			"duration", elapsed,
		)
	}

	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Transition: out.transition,
		Result:     result,
		Duration:   elapsed,
		QueueWait:  queueWait(job),
		Files:      out.files,
		Items:      out.items,
		Attempt:    job.Attempts,
		Err:        err,
	})
}

// queueWait is how long the job sat eligible before this attempt claimed it.
func queueWait(job *model.GenerationJob) time.Duration {
	if job.StartedAt == nil || job.StartedAt.Before(job.ScheduledAt) {
		return 0
	}
	return job.StartedAt.Sub(job.ScheduledAt)
}

func failureDetails(out outcome) service.JobFailureDetails {
	meta := map[string]string{"files_done": strconv.Itoa(out.files)}
	if out.failedFile != "" {
		meta["failed_file"] = out.failedFile
	}
	return service.JobFailureDetails{
		ErrorClass: obserrors.Classify(out.err),
		Metadata:   meta,
	}
}

// startHeartbeat starts a background ticker to extend the job lease periodically.
// It returns a stop function to end the heartbeat.
func (r *Runner) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := r.lease / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if ok, err := r.jobs.Heartbeat(ctx, jobID, r.lease); err != nil {
					if ctx.Err() == nil {
						r.logger.ErrorContext(ctx, "heartbeat failed", "job_id", jobID, "error", err)
					}
				} else if !ok {
					r.logger.WarnContext(ctx, "heartbeat not applied (job may be lost)", "job_id", jobID)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

// waitForNotify waits for a job notification, the idle poll interval or context
// cancellation. It reports false only when the worker should stop.
func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.idlePoll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case _, ok := <-notify:
		if !ok {
			// Listener stopped; fall back to polling.
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
		return true
	case <-timer.C:
		return true
	}
}
