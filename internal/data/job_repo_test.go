package data

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/catalogue-gen/internal/core"
	domainjob "github.com/target/catalogue-gen/internal/domain/job"
	"github.com/target/catalogue-gen/internal/domain/model"
	"github.com/target/catalogue-gen/internal/testutil"
)

const testLease = 30

func testRetryPolicy() domainjob.RetryPolicy {
	return domainjob.RetryPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Second, MaxDelay: time.Minute}
}

func newTestRepos(db *sql.DB) (*JobRepo, *ItemRepo, *FixedTimeProvider) {
	clock := NewFixedTimeProvider(testutil.TestTime())
	cfg := RepoConfig{Retry: testRetryPolicy(), TimeProvider: clock}
	return NewJobRepo(db, cfg), NewItemRepo(db, cfg), clock
}

func oldJobsParams(status model.JobStatus) core.DeleteOldJobsParams {
	return core.DeleteOldJobsParams{Status: status, MaxAge: time.Hour, BatchSize: 10}
}

func reserveJob(t *testing.T, repo *JobRepo) *model.GenerationJob {
	t.Helper()
	job, err := repo.ReserveNext(context.Background(), testLease)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestNormalizeListOptions(t *testing.T) {
	tests := []struct {
		name      string
		in        model.ListJobsOptions
		wantPage  int
		wantLimit int
	}{
		{name: "defaults", in: model.ListJobsOptions{}, wantPage: 1, wantLimit: defaultListLimit},
		{name: "negative page", in: model.ListJobsOptions{Page: -3, Limit: 5}, wantPage: 1, wantLimit: 5},
		{name: "limit capped", in: model.ListJobsOptions{Page: 2, Limit: 1000}, wantPage: 2, wantLimit: maxListLimit},
		{name: "kept", in: model.ListJobsOptions{Page: 4, Limit: 25}, wantPage: 4, wantLimit: 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeListOptions(tt.in)
			assert.Equal(t, tt.wantPage, got.Page)
			assert.Equal(t, tt.wantLimit, got.Limit)
		})
	}
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0, clampProgress(-5))
	assert.Equal(t, 42, clampProgress(42))
	assert.Equal(t, 100, clampProgress(150))
}

func TestAllowedPriorStatuses(t *testing.T) {
	assert.Equal(t, []string{"queued"}, allowedPriorStatuses(model.JobStatusProcessing))
	assert.Equal(t, []string{"processing"}, allowedPriorStatuses(model.JobStatusCompleted))
	assert.Equal(t, []string{"queued", "processing"}, allowedPriorStatuses(model.JobStatusCancelled))
	assert.Equal(t, []string{"processing"}, allowedPriorStatuses(model.JobStatusQueued))
}

func TestValidJobID(t *testing.T) {
	assert.True(t, validJobID(uuid.NewString()))
	assert.False(t, validJobID(""))
	assert.False(t, validJobID("job-1"))
}

func TestNewJobRepo_InvalidRetryFallsBackToDefault(t *testing.T) {
	repo := NewJobRepo(nil, RepoConfig{Retry: domainjob.RetryPolicy{MaxAttempts: 0}})
	assert.Equal(t, domainjob.DefaultRetryPolicy(), repo.retry)
	assert.IsType(t, &RealTimeProvider{}, repo.timeProvider)
}

func TestJobRepo_NonDBValidation(t *testing.T) {
	repo := NewJobRepo(nil, RepoConfig{})
	ctx := context.Background()

	_, err := repo.Create(ctx, nil)
	require.Error(t, err)

	_, err = repo.Create(ctx, &model.CreateJobRequest{OwnerID: "owner"})
	require.ErrorIs(t, err, model.ErrNoFiles)

	_, err = repo.ReserveNext(ctx, 0)
	require.Error(t, err)

	ok, err := repo.Heartbeat(ctx, "not-a-uuid", testLease)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.UpdateStatus(ctx, model.UpdateStatusParams{ID: uuid.NewString(), Status: "bogus"})
	require.Error(t, err)

	_, err = repo.UpdateStatus(ctx, model.UpdateStatusParams{ID: "nope", Status: model.JobStatusFailed})
	require.ErrorIs(t, err, ErrJobNotFound)

	outcome, err := repo.RequestCancel(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, model.CancelRejected, outcome)

	require.ErrorIs(t, repo.Delete(ctx, "nope"), ErrJobNotFound)
}

func TestJobRepo_CreateAndReserve(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		first, err := repo.Create(ctx, testutil.NewJobRequest().WithOwner("owner-a").Build())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, first.Status)
		assert.Equal(t, 0, first.Progress)
		assert.Equal(t, 3, first.MaxAttempts)
		require.Len(t, first.Files, 1)

		clock.Advance(time.Second)
		second, err := repo.Create(ctx, testutil.NewJobRequest().WithOwner("owner-a").WithMaxAttempts(0).Build())
		require.NoError(t, err)
		assert.Equal(t, testRetryPolicy().MaxAttempts, second.MaxAttempts)

		got := reserveJob(t, repo)
		assert.Equal(t, first.ID, got.ID, "oldest job is reserved first")
		assert.Equal(t, model.JobStatusProcessing, got.Status)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, clock.Now().Add(testLease*time.Second), *got.LeaseExpiresAt, time.Second)
		require.NotNil(t, got.StartedAt)

		assert.Equal(t, second.ID, reserveJob(t, repo).ID)

		_, err = repo.ReserveNext(ctx, testLease)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepo_ConcurrentReserveNeverDoubleDelivers(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()

		const workers = 5
		for range workers {
			_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
			require.NoError(t, err)
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
		)
		funcs := make([]func() error, workers)
		for i := range funcs {
			funcs[i] = func() error {
				job, err := repo.ReserveNext(ctx, testLease)
				if err != nil {
					return err
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
				return nil
			}
		}

		runner := testutil.NewConcurrentTestRunner(t)
		runner.AssertNoErrors(runner.RunConcurrent(funcs...))
		if !assert.Len(t, seen, workers) {
			testutil.LogJobStates(t, db, "after concurrent reserve")
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s delivered more than once", id)
		}
	})
}

func TestJobRepo_HeartbeatAndProgress(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		created, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		ok, err := repo.Heartbeat(ctx, created.ID, testLease)
		require.NoError(t, err)
		assert.False(t, ok, "queued jobs hold no lease")

		job := reserveJob(t, repo)
		clock.Advance(20 * time.Second)
		ok, err = repo.Heartbeat(ctx, job.ID, testLease)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, clock.Now().Add(testLease*time.Second), *got.LeaseExpiresAt, time.Second)

		ok, err = repo.UpdateProgress(ctx, job.ID, 60)
		require.NoError(t, err)
		assert.True(t, ok)
		_, err = repo.UpdateProgress(ctx, job.ID, 30)
		require.NoError(t, err)

		got, err = repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 60, got.Progress, "progress never moves backwards")
	})
}

func TestJobRepo_UpdateStatusTerminalIsFinal(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := reserveJob(t, repo)

		ok, err := repo.UpdateStatus(ctx, model.UpdateStatusParams{ID: job.ID, Status: model.JobStatusCompleted})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.NotNil(t, got.CompletedAt)
		assert.Nil(t, got.LeaseExpiresAt)

		ok, err = repo.UpdateStatus(ctx, model.UpdateStatusParams{
			ID:     job.ID,
			Status: model.JobStatusFailed,
			Error:  testutil.StringPtr("late failure"),
		})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err = repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Nil(t, got.Error)

		_, err = repo.UpdateStatus(ctx, model.UpdateStatusParams{ID: uuid.NewString(), Status: model.JobStatusFailed})
		require.NoError(t, err)
	})
}

func TestJobRepo_Requeue(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, testutil.NewJobRequest().WithMaxAttempts(2).Build())
		require.NoError(t, err)
		job := reserveJob(t, repo)

		decision, err := repo.Requeue(ctx, job.ID, "provider unavailable")
		require.NoError(t, err)
		assert.True(t, decision.Requeued)
		assert.Equal(t, 1, decision.Attempts)
		assert.WithinDuration(t, clock.Now().Add(5*time.Second), decision.ScheduledAt, time.Millisecond)

		_, err = repo.ReserveNext(ctx, testLease)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable, "backoff delays redelivery")

		_, err = repo.Requeue(ctx, job.ID, "again")
		require.ErrorIs(t, err, ErrJobNotActive)

		clock.Advance(5 * time.Second)
		job = reserveJob(t, repo)
		assert.Equal(t, 2, job.Attempts)

		decision, err = repo.Requeue(ctx, job.ID, "provider unavailable")
		require.NoError(t, err)
		assert.False(t, decision.Requeued)
		assert.False(t, decision.Cancelled)
		assert.Equal(t, 2, decision.Attempts)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "provider unavailable", *got.Error)
	})
}

func TestJobRepo_RequeueHonoursPendingCancel(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := reserveJob(t, repo)

		outcome, err := repo.RequestCancel(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CancelRequested, outcome)

		requested, err := repo.IsCancelRequested(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, requested)

		decision, err := repo.Requeue(ctx, job.ID, "shutdown")
		require.NoError(t, err)
		assert.False(t, decision.Requeued)
		assert.True(t, decision.Cancelled)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
	})
}

func TestJobRepo_RequestCancel(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()

		queued, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)

		outcome, err := repo.RequestCancel(ctx, queued.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CancelImmediate, outcome)

		got, err := repo.GetByID(ctx, queued.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
		assert.NotNil(t, got.CompletedAt)

		outcome, err = repo.RequestCancel(ctx, queued.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CancelRejected, outcome, "terminal jobs cannot be cancelled")

		outcome, err = repo.RequestCancel(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, model.CancelRejected, outcome)

		_, err = repo.ReserveNext(ctx, testLease)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		_, err = repo.IsCancelRequested(ctx, uuid.NewString())
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobRepo_RecoverExpired(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, testutil.NewJobRequest().WithMaxAttempts(2).Build())
		require.NoError(t, err)
		job := reserveJob(t, repo)

		n, err := repo.RecoverExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "live lease is left alone")

		clock.Advance((testLease + 1) * time.Second)
		n, err = repo.RecoverExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, got.Status)
		assert.Nil(t, got.LeaseExpiresAt)
		assert.WithinDuration(t, clock.Now().Add(5*time.Second), got.ScheduledAt, time.Second)

		clock.Advance(5 * time.Second)
		job = reserveJob(t, repo)
		assert.Equal(t, 2, job.Attempts)

		clock.Advance((testLease + 1) * time.Second)
		n, err = repo.RecoverExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err = repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, leaseExhaustedMessage, *got.Error)
	})
}

func TestJobRepo_GetByIDAndDelete(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, items, _ := newTestRepos(db)
		ctx := context.Background()

		_, err := repo.GetByID(ctx, uuid.NewString())
		require.ErrorIs(t, err, ErrJobNotFound)

		_, err = repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := reserveJob(t, repo)

		first, second := newTestItem(model.ItemTypePicture), newTestItem(model.ItemTypeClip)
		require.NoError(t, items.RecordFileResult(ctx, model.FileResultParams{
			JobID:    job.ID,
			Items:    []*model.CatalogueItem{first, second},
			Progress: 100,
		}))

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID, second.ID}, got.ItemIDs)

		require.ErrorIs(t, repo.Delete(ctx, job.ID), ErrJobActive)

		ok, err := repo.UpdateStatus(ctx, model.UpdateStatusParams{ID: job.ID, Status: model.JobStatusCompleted})
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, repo.Delete(ctx, job.ID))
		_, err = repo.GetByID(ctx, job.ID)
		require.ErrorIs(t, err, ErrJobNotFound)
		_, err = items.GetItem(ctx, first.ID)
		require.ErrorIs(t, err, ErrItemNotFound, "items are deleted with their job")

		require.ErrorIs(t, repo.Delete(ctx, job.ID), ErrJobNotFound)
	})
}

func TestJobRepo_ListByOwner(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		var ids []string
		for range 3 {
			job, err := repo.Create(ctx, testutil.NewJobRequest().WithOwner("owner-list").Build())
			require.NoError(t, err)
			ids = append(ids, job.ID)
			clock.Advance(time.Second)
		}
		_, err := repo.Create(ctx, testutil.NewJobRequest().WithOwner("someone-else").Build())
		require.NoError(t, err)

		page, err := repo.ListByOwner(ctx, model.ListJobsOptions{OwnerID: "owner-list", Page: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Jobs, 2)
		assert.Equal(t, ids[2], page.Jobs[0].ID, "newest first")
		assert.Equal(t, ids[1], page.Jobs[1].ID)
		assert.Equal(t, model.Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)

		page, err = repo.ListByOwner(ctx, model.ListJobsOptions{OwnerID: "owner-list", Page: 2, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page.Jobs, 1)
		assert.Equal(t, ids[0], page.Jobs[0].ID)

		page, err = repo.ListByOwner(ctx, model.ListJobsOptions{OwnerID: "nobody"})
		require.NoError(t, err)
		assert.Empty(t, page.Jobs)
		assert.Zero(t, page.Pagination.Total)

		_, err = repo.ListByOwner(ctx, model.ListJobsOptions{})
		require.Error(t, err)
	})
}

func TestJobRepo_CountByStatusAndDeleteOldJobs(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		for range 3 {
			_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
			require.NoError(t, err)
		}
		job := reserveJob(t, repo)
		ok, err := repo.UpdateStatus(ctx, model.UpdateStatusParams{ID: job.ID, Status: model.JobStatusCompleted})
		require.NoError(t, err)
		require.True(t, ok)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[model.JobStatusQueued])
		assert.Equal(t, 1, counts[model.JobStatusCompleted])

		_, err = repo.DeleteOldJobs(ctx, oldJobsParams(model.JobStatusQueued))
		require.Error(t, err, "non-terminal statuses are never reaped")

		deleted, err := repo.DeleteOldJobs(ctx, oldJobsParams(model.JobStatusCompleted))
		require.NoError(t, err)
		assert.Zero(t, deleted, "job is younger than max age")

		clock.Advance(2 * time.Hour)
		deleted, err = repo.DeleteOldJobs(ctx, oldJobsParams(model.JobStatusCompleted))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		counts, err = repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Zero(t, counts[model.JobStatusCompleted])
		assert.Equal(t, 2, counts[model.JobStatusQueued])
	})
}
