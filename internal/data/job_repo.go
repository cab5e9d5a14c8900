package data

import (
	"database/sql"
	"errors"
	"log/slog"

	"github.com/target/catalogue-gen/internal/core"
	domainjob "github.com/target/catalogue-gen/internal/domain/job"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotActive is returned when a write targets a job that is no longer processing.
	ErrJobNotActive = errors.New("job is not processing")
)

// notifyChannel is the LISTEN/NOTIFY channel used to wake idle workers.
const notifyChannel = "catalogue_job_added"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Retry        domainjob.RetryPolicy
	Logger       *slog.Logger
	TimeProvider TimeProvider
	// StatusCache, when set, receives a fresh snapshot for every job that lease
	// recovery moves, so status reads never outlive the worker that wrote them.
	StatusCache core.StatusCache
}

// JobRepo persists generation jobs and implements the durable queue on top of them.
type JobRepo struct {
	DB           *sql.DB
	retry        domainjob.RetryPolicy
	timeProvider TimeProvider
	logger       *slog.Logger
	cache        core.StatusCache
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	retry := cfg.Retry
	if retry.Validate() != nil {
		retry = domainjob.DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		retry:        retry,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
		cache:        cfg.StatusCache,
	}
}

const jobColumns = `
  j.id::text,
  j.owner_id,
  j.status,
  j.progress,
  j.files_done,
  j.files,
  j.error,
  j.attempts,
  j.max_attempts,
  j.cancel_requested,
  j.scheduled_at,
  j.lease_expires_at,
  j.started_at,
  j.completed_at,
  j.created_at,
  j.updated_at
`
