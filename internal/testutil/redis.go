package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLockPrefix = "catalogue:testutil:db_lock:"

func pingRedis(addr string) error {
	c := redis.NewClient(&redis.Options{Addr: addr})
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}

// GetTestRedisAddr returns REDIS_ADDR when set, otherwise the first reachable of the
// CI service name, the default port and the local compose test port.
func GetTestRedisAddr(t TestingTB) (string, bool) {
	t.Helper()
	candidates := []string{"redis:6379", "localhost:6379", "localhost:56379"}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		candidates = []string{addr}
	}
	for _, addr := range candidates {
		if err := pingRedis(addr); err == nil {
			return addr, true
		}
	}
	return candidates[len(candidates)-1], false
}

// reserveRedisDB picks a logical DB in 1..15 so parallel test packages never flush each
// other's data. Reservations live in DB 0, which no test flushes.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}

	meta := redis.NewClient(&redis.Options{Addr: addr})
	defer meta.Close()
	owner := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())

	for db := 1; db <= 15; db++ {
		key := redisLockPrefix + strconv.Itoa(db)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ok, err := meta.SetNX(ctx, key, owner, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		onCleanup(t, func() {
			c := redis.NewClient(&redis.Options{Addr: addr})
			defer c.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			c.Del(ctx, key)
		})
		return db
	}
	return 1
}

// SetupTestRedis returns a client on a freshly flushed logical DB, closed on cleanup.
// Skips (or fails, with TEST_REQUIRE_REDIS) when Redis is unreachable.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()
	addr, ok := GetTestRedisAddr(t)
	if !ok {
		skipOrFail(t, requireRedis(), "redis not available for testing at %s", addr)
		return nil
	}

	db := reserveRedisDB(t, addr)
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		skipOrFail(t, requireRedis(), "redis at %s unusable: %v", addr, err)
		return nil
	}
	t.Logf("using redis %s db=%d", addr, db)
	onCleanup(t, func() { _ = client.Close() })
	return client
}
