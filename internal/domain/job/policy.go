// Package job holds queue policies shared by the job store, service, and worker.
package job

import (
	"errors"
	"time"
)

var (
	// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
	ErrInvalidDefaultLease = errors.New("default lease must be positive")
	// ErrInvalidRetryBase indicates the configured retry base delay is not positive.
	ErrInvalidRetryBase = errors.New("retry base delay must be positive")
)

// LeasePolicy normalises lease durations for job reservations and heartbeats.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// Seconds resolves a requested lease to whole seconds. Zero uses the default;
// anything shorter than a second is raised to one.
func (p *LeasePolicy) Seconds(request time.Duration) int {
	if request == 0 && p != nil {
		request = p.defaultLease
	}
	secs := int(request / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// RetryPolicy is the job-level redelivery policy: a bounded number of attempts with
// exponential backoff (base, 2*base, 4*base, ...).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 5s doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 10 * time.Minute}
}

// Validate reports configuration errors.
func (p RetryPolicy) Validate() error {
	if p.BaseDelay <= 0 {
		return ErrInvalidRetryBase
	}
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be >= 1")
	}
	return nil
}

// Delay returns the wait before the next attempt after `attempts` attempts have been made.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}
