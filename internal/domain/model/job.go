// Package model defines the core data types shared by the catalogue generation pipeline.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a generation job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobStatusQueued indicates a job is waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a worker holds the job lease.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates every source file was processed.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job-level failure stopped processing.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled by request.
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// ErrNoFiles is returned when a job is requested without any source file.
var ErrNoFiles = errors.New("at least one source file is required")

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AllJobStatuses lists every status in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusQueued,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether the state machine allows s -> next.
//
//	queued -> processing -> {completed, failed}
//	queued | processing -> cancelled
//	processing -> queued (job-level retry redelivery)
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing || next == JobStatusCancelled
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusCancelled || next == JobStatusQueued
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses can be parsed from query strings.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", v)
	}
	*s = v
	return nil
}

// GenerationJob is one submitted generation request covering one or more source files.
type GenerationJob struct {
	ID              string       `json:"id"                        db:"id"`
	OwnerID         string       `json:"ownerId"                   db:"owner_id"`
	Status          JobStatus    `json:"status"                    db:"status"`
	Progress        int          `json:"progress"                  db:"progress"`
	FilesDone       int          `json:"-"                         db:"files_done"`
	Files           []SourceFile `json:"files"                     db:"files"`
	Error           *string      `json:"error,omitempty"           db:"error"`
	Attempts        int          `json:"attempts"                  db:"attempts"`
	MaxAttempts     int          `json:"maxAttempts"               db:"max_attempts"`
	CancelRequested bool         `json:"cancelRequested"           db:"cancel_requested"`
	ScheduledAt     time.Time    `json:"scheduledAt"               db:"scheduled_at"`
	LeaseExpiresAt  *time.Time   `json:"leaseExpiresAt,omitempty"  db:"lease_expires_at"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"       db:"started_at"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty"     db:"completed_at"`
	CreatedAt       time.Time    `json:"createdAt"                 db:"created_at"`
	UpdatedAt       time.Time    `json:"updatedAt"                 db:"updated_at"`
	ItemIDs         []string     `json:"itemIds"                   db:"-"`
}

// CreateJobRequest represents a request to create a new generation job.
type CreateJobRequest struct {
	OwnerID     string       `json:"ownerId"`
	Files       []SourceFile `json:"files"`
	MaxAttempts int          `json:"maxAttempts,omitempty"`
}

// Validate checks the only precondition the queue enforces: a non-empty file list.
// File type and size validation happen upstream before enqueue.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if len(r.Files) == 0 {
		return ErrNoFiles
	}
	for i, f := range r.Files {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("file %d: path is required", i)
		}
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// UpdateStatusParams carries a state transition for updateJobStatus.
type UpdateStatusParams struct {
	ID     string
	Status JobStatus
	Error  *string
}

// RetryDecision reports what a job-level retry did with a job. Requeued and Cancelled
// are never both set; when neither is, the job failed with its attempts exhausted.
type RetryDecision struct {
	Requeued bool
	// Cancelled means a pending cancel request was honoured instead of a retry.
	Cancelled   bool
	Attempts    int
	ScheduledAt time.Time
}

// CancelOutcome reports what a cancel request did.
type CancelOutcome int

const (
	// CancelRejected means the job was unknown or already terminal.
	CancelRejected CancelOutcome = iota
	// CancelImmediate means a queued job was cancelled before any worker saw it.
	CancelImmediate
	// CancelRequested means a processing job was flagged; the worker cancels at the next file boundary.
	CancelRequested
)

// Accepted reports whether the cancel request was honoured.
func (o CancelOutcome) Accepted() bool {
	return o == CancelImmediate || o == CancelRequested
}

// ListJobsOptions pages through an owner's jobs, newest first.
type ListJobsOptions struct {
	OwnerID string
	Page    int
	Limit   int
}

// Offset returns the row offset for the page (pages start at 1).
func (o ListJobsOptions) Offset() int {
	if o.Page <= 1 {
		return 0
	}
	return (o.Page - 1) * o.Limit
}

// Pagination describes a page of results.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes page counts for total rows.
func NewPagination(page, limit, total int) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = (total + limit - 1) / limit
	}
	return p
}

// JobPage is one page of an owner's jobs.
type JobPage struct {
	Jobs       []*GenerationJob `json:"jobs"`
	Pagination Pagination       `json:"pagination"`
}

// Progress returns round(done/total*100). Only a finished job reports 100, so with many
// files the last unfinished step is held at 99.
func Progress(done, total int) int {
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	if done <= 0 {
		return 0
	}
	return min((done*200+total)/(2*total), 99)
}

// JobSnapshot is the in-flight view of a job kept in the status cache.
type JobSnapshot struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot returns the cacheable view of j.
func (j *GenerationJob) Snapshot() JobSnapshot {
	return JobSnapshot{
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
