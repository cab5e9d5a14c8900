package workflowtest

import (
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/catalogue-gen/internal/domain/model"
	"github.com/target/catalogue-gen/internal/testutil"
)

func TestWorkflowOptions(t *testing.T) {
	opts := DefaultWorkflowOptions("/srv/uploads")
	assert.False(t, opts.EnableRedis)
	assert.Equal(t, 30*time.Second, opts.JobLease)
	assert.Equal(t, 1, opts.Workers)
	assert.Equal(t, 3, opts.Retry.MaxAttempts)

	redisOpts := RedisWorkflowOptions("/srv/uploads")
	assert.True(t, redisOpts.EnableRedis)
	assert.Equal(t, "/srv/uploads", redisOpts.StorageRoot)
}

func TestCatalogueWorkflow_GeneratesItems(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		h := NewWorkflowTestHarness(t, db, DefaultWorkflowOptions(t.TempDir()))
		defer h.Close()

		jobID := h.SubmitJob("owner-e2e", h.SourceFiles(2))
		h.StartWorker()

		view := h.WaitForStatus(jobID, model.JobStatusCompleted, 30*time.Second)
		assert.Equal(t, 100, view.Progress)
		assert.Nil(t, view.Error)
		require.NotEmpty(t, view.Items)

		for _, item := range view.Items {
			assert.Equal(t, jobID, item.JobID)
			assert.Equal(t, model.DownloadPath(item.ID), item.DownloadURL)
		}

		body, code := h.Download(view.Items[0].ID)
		assert.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, body)

		assert.NotEmpty(t, h.Metrics.Calls("job.transition"))
	})
}

func TestCatalogueWorkflow_CancelQueuedJob(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		h := NewWorkflowTestHarness(t, db, DefaultWorkflowOptions(t.TempDir()))
		defer h.Close()

		jobID := h.SubmitJob("owner-cancel", h.SourceFiles(1))
		assert.Equal(t, http.StatusOK, h.Cancel(jobID))

		view, code := h.Status(jobID)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, model.JobStatusCancelled, view.Status)
		assert.Empty(t, view.Items)

		// A terminal job cannot be cancelled again.
		assert.Equal(t, http.StatusConflict, h.Cancel(jobID))

		// The worker never picks up a cancelled job.
		h.StartWorker()
		time.Sleep(200 * time.Millisecond)
		view, _ = h.Status(jobID)
		assert.Equal(t, model.JobStatusCancelled, view.Status)
	})
}

func TestCatalogueWorkflow_UnknownJob(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		h := NewWorkflowTestHarness(t, db, DefaultWorkflowOptions(t.TempDir()))
		defer h.Close()

		_, code := h.Status("00000000-0000-0000-0000-000000000000")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, http.StatusNotFound, h.Cancel("00000000-0000-0000-0000-000000000000"))
	})
}
