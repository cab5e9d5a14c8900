// Package core declares the ports between the catalogue services and their adapters.
package core

import (
	"context"
	"time"

	"github.com/target/catalogue-gen/internal/domain/model"
)

// JobRepository is the durable job store and queue.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.GenerationJob, error)
	GetByID(ctx context.Context, id string) (*model.GenerationJob, error)
	ListByOwner(ctx context.Context, opts model.ListJobsOptions) (*model.JobPage, error)
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.GenerationJob, error)
	WaitForNotification(ctx context.Context) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) (bool, error)
	UpdateStatus(ctx context.Context, params model.UpdateStatusParams) (bool, error)
	Requeue(ctx context.Context, jobID, reason string) (model.RetryDecision, error)
	RequestCancel(ctx context.Context, jobID string) (model.CancelOutcome, error)
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// ItemRepository stores generated catalogue items.
type ItemRepository interface {
	AppendItem(ctx context.Context, item *model.CatalogueItem) error
	RecordFileResult(ctx context.Context, params model.FileResultParams) error
	ListByJob(ctx context.Context, jobID string) ([]*model.CatalogueItem, error)
	GetItem(ctx context.Context, itemID string) (*model.CatalogueItem, error)
}

// StatusCache holds the in-flight view of active jobs.
type StatusCache interface {
	Put(ctx context.Context, snap model.JobSnapshot) error
	Get(ctx context.Context, jobID string) (*model.JobSnapshot, error)
	Delete(ctx context.Context, jobID string) error
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the housekeeping operations run by the reaper.
type ReaperRepository interface {
	// RecoverExpired requeues (with backoff) or fails processing jobs whose lease lapsed.
	RecoverExpired(ctx context.Context) (int64, error)

	// DeleteOldJobs deletes terminal jobs older than MaxAge, at most BatchSize per call.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)

	// CountByStatus reports queue depth per status for metrics.
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

// ContentGenerator produces the catalogue items for one source file.
type ContentGenerator interface {
	ProcessFile(ctx context.Context, jobID string, file model.SourceFile) ([]*model.CatalogueItem, error)
}
