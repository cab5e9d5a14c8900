package data

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/catalogue-gen/internal/domain/model"
	"github.com/target/catalogue-gen/internal/testutil"
)

func TestStatusTTLs_For(t *testing.T) {
	ttls := DefaultStatusTTLs()
	assert.Equal(t, time.Hour, ttls.For(model.JobStatusQueued))
	assert.Equal(t, time.Hour, ttls.For(model.JobStatusProcessing))
	assert.Equal(t, 24*time.Hour, ttls.For(model.JobStatusCompleted))
	assert.Equal(t, 24*time.Hour, ttls.For(model.JobStatusCancelled))
	assert.Equal(t, 7*24*time.Hour, ttls.For(model.JobStatusFailed))
}

func TestNewRedisStatusCache_PartialTTLsUseDefaults(t *testing.T) {
	cache := NewRedisStatusCache(nil, StatusTTLs{Active: time.Minute})
	assert.Equal(t, DefaultStatusTTLs(), cache.ttls)
	assert.Equal(t, "catalogue:job:status:abc", statusKey("abc"))
}

func TestNoopStatusCache(t *testing.T) {
	var cache NoopStatusCache
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, model.JobSnapshot{JobID: "job"}))
	_, err := cache.Get(ctx, "job")
	require.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, cache.Delete(ctx, "job"))
}

func TestRedisStatusCache(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisStatusCache(client, StatusTTLs{Active: time.Minute, Completed: time.Hour, Failed: 2 * time.Hour})
	ctx := context.Background()

	require.NoError(t, cache.Health(ctx))

	snap := model.JobSnapshot{
		JobID:     uuid.NewString(),
		Status:    model.JobStatusProcessing,
		Progress:  40,
		CreatedAt: testutil.TestTime(),
		UpdatedAt: testutil.TestTime().Add(time.Minute),
	}
	require.NoError(t, cache.Put(ctx, snap))

	got, err := cache.Get(ctx, snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, snap.Status, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))

	ttl, err := client.TTL(ctx, statusKey(snap.JobID)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)

	snap.Status = model.JobStatusFailed
	require.NoError(t, cache.Put(ctx, snap))
	ttl, err = client.TTL(ctx, statusKey(snap.JobID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour, "failed snapshots live longer")

	require.NoError(t, cache.Delete(ctx, snap.JobID))
	_, err = cache.Get(ctx, snap.JobID)
	require.ErrorIs(t, err, ErrCacheMiss)

	_, err = cache.Get(ctx, "")
	require.ErrorIs(t, err, ErrJobIDRequired)
	require.ErrorIs(t, cache.Put(ctx, model.JobSnapshot{}), ErrJobIDRequired)

	for range 3 {
		require.NoError(t, cache.Put(ctx, model.JobSnapshot{JobID: uuid.NewString(), Status: model.JobStatusQueued}))
	}
	require.NoError(t, client.Set(ctx, "unrelated:key", "x", time.Minute).Err())

	removed, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.Equal(t, int64(1), client.Exists(ctx, "unrelated:key").Val())
}
