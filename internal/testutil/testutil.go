// Package testutil holds shared helpers for tests that need Postgres, Redis or fixtures.
package testutil

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// TestingTB is the subset of testing.TB the helpers need; *testing.T and *testing.B satisfy it.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// cleaner is implemented by *testing.T and *testing.B.
type cleaner interface{ Cleanup(func()) }

func onCleanup(t TestingTB, fn func()) {
	if c, ok := any(t).(cleaner); ok {
		c.Cleanup(fn)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

// When TEST_REQUIRE_* is set a missing service fails the test instead of skipping it,
// so CI cannot go green by silently skipping every integration test.
func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

func skipOrFail(t TestingTB, required bool, format string, args ...any) {
	t.Helper()
	if required {
		t.Fatalf(format, args...)
	}
	t.Skipf(format, args...)
}

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// ConcurrentTestRunner runs functions in parallel and collects their errors.
type ConcurrentTestRunner struct {
	t TestingTB
}

// NewConcurrentTestRunner creates a runner reporting to t.
func NewConcurrentTestRunner(t TestingTB) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{t: t}
}

// RunConcurrent starts every fn at once and returns their errors in argument order.
func (r *ConcurrentTestRunner) RunConcurrent(fns ...func() error) []error {
	r.t.Helper()
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// AssertNoErrors fails the test on the first non-nil error.
func (r *ConcurrentTestRunner) AssertNoErrors(errs []error) {
	r.t.Helper()
	for i, err := range errs {
		if err != nil {
			r.t.Fatalf("concurrent operation %d failed: %v", i, err)
		}
	}
}
