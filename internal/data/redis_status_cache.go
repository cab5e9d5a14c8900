package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalogue-gen/internal/domain/model"
)

const statusKeyPrefix = "catalogue:job:status:"

// StatusTTLs controls how long snapshots live per status.
type StatusTTLs struct {
	Active    time.Duration
	Completed time.Duration
	Failed    time.Duration
}

// DefaultStatusTTLs keeps active snapshots for an hour, completed and cancelled jobs for
// a day and failed jobs for a week.
func DefaultStatusTTLs() StatusTTLs {
	return StatusTTLs{Active: time.Hour, Completed: 24 * time.Hour, Failed: 7 * 24 * time.Hour}
}

// For returns the TTL to use for a snapshot in status s.
func (t StatusTTLs) For(s model.JobStatus) time.Duration {
	switch s {
	case model.JobStatusFailed:
		return t.Failed
	case model.JobStatusCompleted, model.JobStatusCancelled:
		return t.Completed
	default:
		return t.Active
	}
}

// RedisStatusCache holds the in-flight view of jobs (status and progress) in Redis.
type RedisStatusCache struct {
	client redis.UniversalClient
	ttls   StatusTTLs
}

// NewRedisStatusCache creates a status cache backed by client.
func NewRedisStatusCache(client redis.UniversalClient, ttls StatusTTLs) *RedisStatusCache {
	if ttls.Active <= 0 || ttls.Completed <= 0 || ttls.Failed <= 0 {
		ttls = DefaultStatusTTLs()
	}
	return &RedisStatusCache{client: client, ttls: ttls}
}

func statusKey(jobID string) string {
	return statusKeyPrefix + jobID
}

// Put stores a snapshot, expiring it according to its status.
func (c *RedisStatusCache) Put(ctx context.Context, snap model.JobSnapshot) error {
	if snap.JobID == "" {
		return ErrJobIDRequired
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(snap.JobID), raw, c.ttls.For(snap.Status)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get returns the cached snapshot or ErrCacheMiss.
func (c *RedisStatusCache) Get(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}
	raw, err := c.client.Get(ctx, statusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var snap model.JobSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Delete evicts a job's snapshot.
func (c *RedisStatusCache) Delete(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}
	if err := c.client.Del(ctx, statusKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every cached snapshot and returns how many keys were removed.
func (c *RedisStatusCache) Clear(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, statusKeyPrefix+"*", 500).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		// Keys are deleted one by one so cluster clients never see a cross-slot DEL.
		for _, key := range keys {
			n, delErr := c.client.Del(ctx, key).Result()
			if delErr != nil {
				return removed, fmt.Errorf("redis del: %w", delErr)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Health checks the health of the Redis connection.
func (c *RedisStatusCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// NoopStatusCache is used when Redis is not configured; every read misses.
type NoopStatusCache struct{}

// Put discards the snapshot.
func (NoopStatusCache) Put(context.Context, model.JobSnapshot) error { return nil }

// Get always misses.
func (NoopStatusCache) Get(context.Context, string) (*model.JobSnapshot, error) {
	return nil, ErrCacheMiss
}

// Delete does nothing.
func (NoopStatusCache) Delete(context.Context, string) error { return nil }
