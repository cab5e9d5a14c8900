package data

import (
	"sync"
	"time"
)

// TimeProvider is the repositories' clock. Every timestamp written to the queue
// (scheduled_at, lease_expires_at, updated_at) comes from it.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock in UTC at microsecond precision, which is what a
// timestamptz column stores, so values read back compare equal to what was written.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// FixedTimeProvider is a settable clock for tests.
type FixedTimeProvider struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedTimeProvider starts the clock at t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{t: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *FixedTimeProvider) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}
