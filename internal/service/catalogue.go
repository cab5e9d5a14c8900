package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/data"
	"github.com/target/catalogue-gen/internal/domain/model"
	apperrors "github.com/target/catalogue-gen/internal/errors"
	"github.com/target/catalogue-gen/internal/storage"
)

// ArtifactLocator maps stored artifact keys back to files on disk.
type ArtifactLocator interface {
	Resolve(key string) (string, error)
	KeyFromURL(publicURL string) (string, error)
	Remove(key string) error
}

// CatalogueServiceOptions groups dependencies for CatalogueService.
type CatalogueServiceOptions struct {
	Jobs      core.JobRepository  // Required: job repository
	Items     core.ItemRepository // Required: item repository
	Artifacts ArtifactLocator     // Required: artifact storage
	Cache     core.StatusCache    // Optional: in-flight status cache
	Logger    *slog.Logger        // Optional: structured logger
	Now       func() time.Time    // Optional: clock for cache snapshots
}

// CatalogueService is the inbound API of the catalogue pipeline: it enqueues jobs and
// answers status, cancel, listing, download and delete requests.
type CatalogueService struct {
	jobs      core.JobRepository
	items     core.ItemRepository
	artifacts ArtifactLocator
	cache     core.StatusCache
	logger    *slog.Logger
	now       func() time.Time
}

// NewCatalogueService constructs a new CatalogueService.
func NewCatalogueService(opts CatalogueServiceOptions) (*CatalogueService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Items == nil {
		return nil, errors.New("ItemRepository is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("ArtifactLocator is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "catalogue_service")
	}
	return &CatalogueService{
		jobs:      opts.Jobs,
		items:     opts.Items,
		artifacts: opts.Artifacts,
		cache:     opts.Cache,
		logger:    logger,
		now:       now,
	}, nil
}

// Enqueue validates req and queues a new generation job.
func (s *CatalogueService) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.GenerationJob, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("enqueue job: %w", err))
	}

	s.putSnapshot(ctx, job.Snapshot())
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job enqueued",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
			"files", len(job.Files),
		)
	}
	return job, nil
}

// GetStatus returns the job's status, progress and the items created so far.
// Active jobs are answered from the status cache when possible; terminal jobs
// and cache misses read Postgres.
func (s *CatalogueService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	if view := s.cachedStatus(ctx, jobID); view != nil {
		items, err := s.items.ListByJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("list items for job %s: %w", jobID, err)
		}
		view.Items = items
		return view, nil
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, jobLookupError(jobID, err)
	}
	items, err := s.items.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items for job %s: %w", jobID, err)
	}
	return &model.JobStatusView{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Items:     items,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}, nil
}

func (s *CatalogueService) cachedStatus(ctx context.Context, jobID string) *model.JobStatusView {
	if s.cache == nil {
		return nil
	}
	snap, err := s.cache.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, data.ErrCacheMiss) && s.logger != nil {
			s.logger.WarnContext(ctx, "status cache read failed", "job_id", jobID, "error", err)
		}
		return nil
	}
	if snap == nil || snap.Status.Terminal() {
		return nil
	}
	return &model.JobStatusView{
		JobID:     snap.JobID,
		Status:    snap.Status,
		Progress:  snap.Progress,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
}

// Cancel requests cancellation. It reports false when the job is already terminal;
// unknown jobs yield a not-found error.
func (s *CatalogueService) Cancel(ctx context.Context, jobID string) (bool, error) {
	outcome, err := s.jobs.RequestCancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	switch outcome {
	case model.CancelImmediate:
		job, getErr := s.jobs.GetByID(ctx, jobID)
		if getErr == nil {
			s.putSnapshot(ctx, job.Snapshot())
		} else {
			s.evict(ctx, jobID)
		}
	case model.CancelRejected:
		if _, getErr := s.jobs.GetByID(ctx, jobID); getErr != nil {
			return false, jobLookupError(jobID, getErr)
		}
	case model.CancelRequested:
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancel requested",
			"job_id", jobID,
			"accepted", outcome.Accepted(),
			"immediate", outcome == model.CancelImmediate,
		)
	}
	return outcome.Accepted(), nil
}

// ListJobs returns one page of an owner's jobs, newest first.
func (s *CatalogueService) ListJobs(ctx context.Context, opts model.ListJobsOptions) (*model.JobPage, error) {
	if opts.OwnerID == "" {
		return nil, apperrors.ValidationField("ownerId", "owner id is required")
	}
	page, err := s.jobs.ListByOwner(ctx, opts)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list jobs for owner %s: %w", opts.OwnerID, err))
	}
	return page, nil
}

// GetItemAssetPath returns an item and the local path of its stored asset.
func (s *CatalogueService) GetItemAssetPath(ctx context.Context, itemID string) (*model.CatalogueItem, string, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if errors.Is(err, data.ErrItemNotFound) {
		return nil, "", apperrors.NotFoundf("item %s not found", itemID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("get item %s: %w", itemID, err)
	}

	path, err := s.artifacts.Resolve(item.AssetRef)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		return nil, "", apperrors.NotFoundf("asset for item %s not found", itemID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("resolve asset for item %s: %w", itemID, err)
	}
	return item, path, nil
}

// DeleteJob removes a job with its items and stored artifacts.
// A job a worker is still processing cannot be deleted.
func (s *CatalogueService) DeleteJob(ctx context.Context, jobID string) error {
	items, err := s.items.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list items for job %s: %w", jobID, err)
	}

	if err := s.jobs.Delete(ctx, jobID); err != nil {
		if errors.Is(err, data.ErrJobActive) {
			return apperrors.Conflict("job is processing; cancel it before deleting")
		}
		return jobLookupError(jobID, err)
	}
	s.evict(ctx, jobID)

	for _, item := range items {
		s.removeArtifacts(ctx, item)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job deleted", "job_id", jobID, "items", len(items))
	}
	return nil
}

// removeArtifacts deletes an item's files. Failures leave orphans on disk and are only logged.
func (s *CatalogueService) removeArtifacts(ctx context.Context, item *model.CatalogueItem) {
	keys := []string{item.AssetRef}
	if thumb, err := s.artifacts.KeyFromURL(item.ThumbnailRef); err == nil {
		keys = append(keys, thumb)
	}
	for _, key := range keys {
		if err := s.artifacts.Remove(key); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "artifact removal failed",
				"job_id", item.JobID,
				"item_id", item.ID,
				"key", key,
				"error", err,
			)
		}
	}
}

func (s *CatalogueService) putSnapshot(ctx context.Context, snap model.JobSnapshot) {
	if s.cache == nil {
		return
	}
	snap.UpdatedAt = s.now().UTC()
	if err := s.cache.Put(ctx, snap); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status cache update failed", "job_id", snap.JobID, "error", err)
	}
}

func (s *CatalogueService) evict(ctx context.Context, jobID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, jobID); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status cache eviction failed", "job_id", jobID, "error", err)
	}
}

func jobLookupError(jobID string, err error) error {
	if errors.Is(err, data.ErrJobNotFound) {
		return apperrors.NotFoundf("job %s not found", jobID)
	}
	return apperrors.MapDBError(fmt.Errorf("get job %s: %w", jobID, err))
}
