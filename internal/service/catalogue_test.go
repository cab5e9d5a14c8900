package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/catalogue-gen/internal/data"
	"github.com/target/catalogue-gen/internal/domain/model"
	apperrors "github.com/target/catalogue-gen/internal/errors"
	"github.com/target/catalogue-gen/internal/mocks"
	"github.com/target/catalogue-gen/internal/storage"
	"go.uber.org/mock/gomock"
)

const testJobID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

type catalogueDeps struct {
	jobs  *mocks.MockJobRepository
	items *mocks.MockItemRepository
	cache *mocks.MockStatusCache
	store *storage.ArtifactStore
}

func newTestCatalogueService(t *testing.T) (*CatalogueService, catalogueDeps) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store, err := storage.NewArtifactStore(filepath.Join(t.TempDir(), "uploads"), "/uploads")
	require.NoError(t, err)

	deps := catalogueDeps{
		jobs:  mocks.NewMockJobRepository(ctrl),
		items: mocks.NewMockItemRepository(ctrl),
		cache: mocks.NewMockStatusCache(ctrl),
		store: store,
	}
	svc, err := NewCatalogueService(CatalogueServiceOptions{
		Jobs:      deps.jobs,
		Items:     deps.items,
		Artifacts: store,
		Cache:     deps.cache,
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return svc, deps
}

func storeArtifact(t *testing.T, store *storage.ArtifactStore, name string, kind storage.Kind) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("bytes"), 0o600))
	key, err := store.SaveAsset(context.Background(), src, name, kind)
	require.NoError(t, err)
	return key
}

func TestNewCatalogueServiceRequiresDeps(t *testing.T) {
	_, err := NewCatalogueService(CatalogueServiceOptions{})
	require.Error(t, err)
}

func TestCatalogueService_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("queues job and caches snapshot", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		req := &model.CreateJobRequest{
			OwnerID: "owner-1",
			Files:   []model.SourceFile{{Path: "/tmp/a.jpg", OriginalName: "a.jpg"}},
		}
		created := &model.GenerationJob{ID: testJobID, OwnerID: "owner-1", Status: model.JobStatusQueued, Files: req.Files}

		deps.jobs.EXPECT().Create(ctx, req).Return(created, nil)
		deps.cache.EXPECT().Put(ctx, gomock.Any()).DoAndReturn(
			func(_ context.Context, snap model.JobSnapshot) error {
				assert.Equal(t, model.JobStatusQueued, snap.Status)
				assert.Equal(t, 0, snap.Progress)
				return nil
			})

		job, err := svc.Enqueue(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, testJobID, job.ID)
	})

	t.Run("empty file list is a validation error", func(t *testing.T) {
		svc, _ := newTestCatalogueService(t)

		_, err := svc.Enqueue(ctx, &model.CreateJobRequest{OwnerID: "owner-1"})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.ErrorIs(t, err, model.ErrNoFiles)
	})

	t.Run("nil request", func(t *testing.T) {
		svc, _ := newTestCatalogueService(t)

		_, err := svc.Enqueue(ctx, nil)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("store timeout maps to timeout error", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		req := &model.CreateJobRequest{
			OwnerID: "owner-1",
			Files:   []model.SourceFile{{Path: "/tmp/a.jpg", OriginalName: "a.jpg"}},
		}
		deps.jobs.EXPECT().Create(ctx, req).Return(nil, context.DeadlineExceeded)

		_, err := svc.Enqueue(ctx, req)
		require.Error(t, err)
		assert.True(t, apperrors.IsTimeout(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestCatalogueService_GetStatus(t *testing.T) {
	ctx := context.Background()
	items := []*model.CatalogueItem{{ID: "item-1", JobID: testJobID, Type: model.ItemTypePicture}}

	t.Run("active job answered from cache", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.cache.EXPECT().Get(ctx, testJobID).Return(&model.JobSnapshot{
			JobID:    testJobID,
			Status:   model.JobStatusProcessing,
			Progress: 33,
		}, nil)
		deps.items.EXPECT().ListByJob(ctx, testJobID).Return(items, nil)

		view, err := svc.GetStatus(ctx, testJobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, view.Status)
		assert.Equal(t, 33, view.Progress)
		assert.Len(t, view.Items, 1)
	})

	t.Run("terminal snapshot falls back to store", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		reason := "source unavailable"
		deps.cache.EXPECT().Get(ctx, testJobID).Return(&model.JobSnapshot{
			JobID:  testJobID,
			Status: model.JobStatusFailed,
		}, nil)
		deps.jobs.EXPECT().GetByID(ctx, testJobID).Return(&model.GenerationJob{
			ID:       testJobID,
			Status:   model.JobStatusFailed,
			Progress: 50,
			Error:    &reason,
		}, nil)
		deps.items.EXPECT().ListByJob(ctx, testJobID).Return(items, nil)

		view, err := svc.GetStatus(ctx, testJobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, view.Status)
		require.NotNil(t, view.Error)
		assert.Equal(t, reason, *view.Error)
	})

	t.Run("cache error falls back to store", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.cache.EXPECT().Get(ctx, testJobID).Return(nil, errors.New("connection refused"))
		deps.jobs.EXPECT().GetByID(ctx, testJobID).Return(&model.GenerationJob{
			ID:     testJobID,
			Status: model.JobStatusQueued,
		}, nil)
		deps.items.EXPECT().ListByJob(ctx, testJobID).Return([]*model.CatalogueItem{}, nil)

		view, err := svc.GetStatus(ctx, testJobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, view.Status)
		assert.Empty(t, view.Items)
	})

	t.Run("unknown job", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.cache.EXPECT().Get(ctx, "missing").Return(nil, data.ErrCacheMiss)
		deps.jobs.EXPECT().GetByID(ctx, "missing").Return(nil, data.ErrJobNotFound)

		_, err := svc.GetStatus(ctx, "missing")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestCatalogueService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("queued job cancelled immediately", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.jobs.EXPECT().RequestCancel(ctx, testJobID).Return(model.CancelImmediate, nil)
		deps.jobs.EXPECT().GetByID(ctx, testJobID).Return(&model.GenerationJob{
			ID:     testJobID,
			Status: model.JobStatusCancelled,
		}, nil)
		deps.cache.EXPECT().Put(ctx, gomock.Any()).DoAndReturn(
			func(_ context.Context, snap model.JobSnapshot) error {
				assert.Equal(t, model.JobStatusCancelled, snap.Status)
				return nil
			})

		ok, err := svc.Cancel(ctx, testJobID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("processing job flagged", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.jobs.EXPECT().RequestCancel(ctx, testJobID).Return(model.CancelRequested, nil)

		ok, err := svc.Cancel(ctx, testJobID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("terminal job not cancelled", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.jobs.EXPECT().RequestCancel(ctx, testJobID).Return(model.CancelRejected, nil)
		deps.jobs.EXPECT().GetByID(ctx, testJobID).Return(&model.GenerationJob{
			ID:     testJobID,
			Status: model.JobStatusCompleted,
		}, nil)

		ok, err := svc.Cancel(ctx, testJobID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.jobs.EXPECT().RequestCancel(ctx, "nope").Return(model.CancelRejected, nil)
		deps.jobs.EXPECT().GetByID(ctx, "nope").Return(nil, data.ErrJobNotFound)

		ok, err := svc.Cancel(ctx, "nope")
		assert.False(t, ok)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestCatalogueService_ListJobs(t *testing.T) {
	ctx := context.Background()
	svc, deps := newTestCatalogueService(t)

	_, err := svc.ListJobs(ctx, model.ListJobsOptions{})
	require.True(t, apperrors.IsValidation(err))

	opts := model.ListJobsOptions{OwnerID: "owner-1", Page: 2, Limit: 5}
	page := &model.JobPage{Jobs: []*model.GenerationJob{}, Pagination: model.NewPagination(2, 5, 7)}
	deps.jobs.EXPECT().ListByOwner(ctx, opts).Return(page, nil)

	got, err := svc.ListJobs(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Pagination.TotalPages)
}

func TestCatalogueService_GetItemAssetPath(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves stored asset", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		key := storeArtifact(t, deps.store, "item-1.mp4", storage.KindVideo)
		deps.items.EXPECT().GetItem(ctx, "item-1").Return(&model.CatalogueItem{
			ID:       "item-1",
			Type:     model.ItemTypeClip,
			AssetRef: key,
		}, nil)

		item, path, err := svc.GetItemAssetPath(ctx, "item-1")
		require.NoError(t, err)
		assert.Equal(t, "item-1", item.ID)
		assert.Equal(t, filepath.Join(deps.store.Root(), "videos", "item-1.mp4"), path)
	})

	t.Run("unknown item", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.items.EXPECT().GetItem(ctx, "nope").Return(nil, data.ErrItemNotFound)

		_, _, err := svc.GetItemAssetPath(ctx, "nope")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("asset missing on disk", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.items.EXPECT().GetItem(ctx, "item-2").Return(&model.CatalogueItem{
			ID:       "item-2",
			AssetRef: "images/item-2.jpg",
		}, nil)

		_, _, err := svc.GetItemAssetPath(ctx, "item-2")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestCatalogueService_DeleteJob(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes job, evicts cache and removes artifacts", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		assetKey := storeArtifact(t, deps.store, "item-1.jpg", storage.KindImage)
		src := filepath.Join(t.TempDir(), "thumb.jpg")
		require.NoError(t, os.WriteFile(src, []byte("thumb"), 0o600))
		thumbKey, err := deps.store.SaveThumbnail(ctx, src, "item-1_thumb.jpg")
		require.NoError(t, err)

		deps.items.EXPECT().ListByJob(ctx, testJobID).Return([]*model.CatalogueItem{{
			ID:           "item-1",
			JobID:        testJobID,
			AssetRef:     assetKey,
			ThumbnailRef: deps.store.PublicURL(thumbKey),
		}}, nil)
		deps.jobs.EXPECT().Delete(ctx, testJobID).Return(nil)
		deps.cache.EXPECT().Delete(ctx, testJobID).Return(nil)

		require.NoError(t, svc.DeleteJob(ctx, testJobID))
		assert.NoFileExists(t, filepath.Join(deps.store.Root(), "images", "item-1.jpg"))
		assert.NoFileExists(t, filepath.Join(deps.store.Root(), "thumbnails", "item-1_thumb.jpg"))
	})

	t.Run("processing job is a conflict", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.items.EXPECT().ListByJob(ctx, testJobID).Return([]*model.CatalogueItem{}, nil)
		deps.jobs.EXPECT().Delete(ctx, testJobID).Return(data.ErrJobActive)

		err := svc.DeleteJob(ctx, testJobID)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("unknown job", func(t *testing.T) {
		svc, deps := newTestCatalogueService(t)
		deps.items.EXPECT().ListByJob(ctx, "nope").Return([]*model.CatalogueItem{}, nil)
		deps.jobs.EXPECT().Delete(ctx, "nope").Return(data.ErrJobNotFound)

		err := svc.DeleteJob(ctx, "nope")
		assert.True(t, apperrors.IsNotFound(err))
	})
}
