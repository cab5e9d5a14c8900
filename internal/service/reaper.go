package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/domain/model"
	"github.com/target/catalogue-gen/internal/observability/metrics"
	"github.com/target/catalogue-gen/internal/observability/statsd"
)

// retainedStatuses are swept by retention, in this order.
var retainedStatuses = []model.JobStatus{
	model.JobStatusCompleted,
	model.JobStatusFailed,
	model.JobStatusCancelled,
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// ReaperService keeps the catalogue queue healthy. Each sweep recovers jobs whose worker
// lease expired, deletes terminal jobs older than the retention window when one is set,
// and reports queue depth per status.
type ReaperService struct {
	repo    core.ReaperRepository
	cfg     config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService validates opts and returns a ready service.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("reaper repository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ReaperService{
		repo:    opts.Repo,
		cfg:     opts.Config,
		logger:  logger.With("component", "reaper_service"),
		metrics: opts.Metrics,
	}, nil
}

// Run sweeps once after a short jitter and then on every interval tick until ctx ends.
// Cancellation is a clean stop; a deadline is returned to the caller.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper",
		"interval", s.cfg.Interval,
		"job_retention", s.cfg.JobRetention,
		"batch_size", s.cfg.BatchSize,
	)

	if !sleepCtx(ctx, s.jitter()) {
		return stopReason(ctx)
	}
	s.sweep(ctx, "initial sweep")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			return stopReason(ctx)
		case <-ticker.C:
			s.sweep(ctx, "sweep")
		}
	}
}

func (s *ReaperService) sweep(ctx context.Context, label string) {
	err := s.RunOnce(ctx)
	switch {
	case err == nil:
	case isCtxDone(err):
		s.logger.DebugContext(ctx, label+" interrupted", "error", err)
	default:
		s.logger.ErrorContext(ctx, label+" failed", "error", err)
	}
}

// jitter spreads replicas that start together over the first tenth of an interval.
func (s *ReaperService) jitter() time.Duration {
	span := int64(s.cfg.Interval / 10)
	if span <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(span)) // #nosec G404 - scheduling jitter only
}

// reapStep is one named unit of a sweep returning the number of jobs it touched.
type reapStep struct {
	name string
	run  func(context.Context) (int64, error)
}

func (s *ReaperService) plan() []reapStep {
	steps := []reapStep{{name: "recover_expired", run: s.repo.RecoverExpired}}
	if s.cfg.JobRetention <= 0 {
		return steps
	}
	for _, status := range retainedStatuses {
		steps = append(steps, reapStep{name: "delete_" + string(status), run: s.retention(status)})
	}
	return steps
}

// RunOnce performs one sweep. A failing step does not stop later steps; their errors are
// joined. When every failure is a context cancellation the result is context.Canceled.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()

	var (
		failures []error
		touched  int64
		onlyCtx  = true
	)
	for _, step := range s.plan() {
		n, err := step.run(ctx)
		touched += n
		s.recordStep(step.name, n, err)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", step.name, err))
			onlyCtx = onlyCtx && isCtxDone(err)
			continue
		}
		if n > 0 {
			s.logger.InfoContext(ctx, "reaper step touched jobs", "operation", step.name, "count", n)
		}
	}

	s.reportDepth(ctx)

	var err error
	switch {
	case len(failures) == 0:
	case onlyCtx:
		err = context.Canceled
	default:
		err = fmt.Errorf("reaper sweep: %w", errors.Join(failures...))
	}
	s.recordSweep(touched, time.Since(start), err)
	return err
}

// retention deletes one status in BatchSize chunks until a chunk comes back empty.
func (s *ReaperService) retention(status model.JobStatus) func(context.Context) (int64, error) {
	params := core.DeleteOldJobsParams{
		Status:    status,
		MaxAge:    s.cfg.JobRetention,
		BatchSize: s.cfg.BatchSize,
	}
	return func(ctx context.Context) (int64, error) {
		var total int64
		for {
			n, err := s.repo.DeleteOldJobs(ctx, params)
			total += n
			switch {
			case err != nil:
				return total, err
			case n == 0:
				return total, nil
			case ctx.Err() != nil:
				return total, ctx.Err()
			}
		}
	}
}

func (s *ReaperService) reportDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		if !isCtxDone(err) {
			s.logger.WarnContext(ctx, "count jobs by status failed", "error", err)
		}
		return
	}
	for _, status := range model.AllJobStatuses() {
		s.metrics.Gauge("jobs.by_status", float64(counts[status]), metrics.Tags{"status": string(status)})
	}
}

func (s *ReaperService) recordStep(name string, n int64, err error) {
	if s.metrics == nil {
		return
	}
	err = ignoreCtxDone(err)
	tags := metrics.Tags{"operation": name, "result": sweepResult(n, err)}.WithError(err)
	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && n > 0 {
		s.metrics.Count("reaper.jobs_processed", n, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) recordSweep(n int64, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	err = ignoreCtxDone(err)
	tags := metrics.Tags{"result": sweepResult(n, err)}.WithError(err)
	s.metrics.Count("reaper.cleanup", 1, tags)
	s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	if err == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func sweepResult(n int64, err error) string {
	switch {
	case err != nil:
		return metrics.ResultError
	case n == 0:
		return metrics.ResultNoop
	default:
		return metrics.ResultSuccess
	}
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func stopReason(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func isCtxDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ignoreCtxDone(err error) error {
	if isCtxDone(err) {
		return nil
	}
	return err
}
