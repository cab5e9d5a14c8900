package provider

import (
	"context"
	"fmt"
	"time"
)

// PollState is the state reported by one poll of a long-running backend job.
type PollState int

const (
	// PollPending means the job is still running.
	PollPending PollState = iota
	// PollSucceeded means the job finished and produced output.
	PollSucceeded
	// PollFailed means the job failed or was cancelled remotely.
	PollFailed
)

const (
	minPollInterval = 2 * time.Second
	maxPollInterval = 5 * time.Second
)

// PollConfig bounds polling of a long-running backend job.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultImagePoll is the poll budget for image jobs.
func DefaultImagePoll() PollConfig {
	return PollConfig{Interval: 5 * time.Second, MaxAttempts: 60}
}

// DefaultVideoPoll is the poll budget for video jobs.
func DefaultVideoPoll() PollConfig {
	return PollConfig{Interval: 5 * time.Second, MaxAttempts: 120}
}

// Normalize clamps the interval to [2s,5s] and guarantees at least one attempt.
func (c PollConfig) Normalize() PollConfig {
	if c.Interval < minPollInterval {
		c.Interval = minPollInterval
	}
	if c.Interval > maxPollInterval {
		c.Interval = maxPollInterval
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	return c
}

// Poller waits between polls. The wait is a timer select on ctx, so a waiting job never
// holds a worker thread busy and cancellation interrupts it.
type Poller struct {
	cfg   PollConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller builds a poller from cfg, normalising it first.
func NewPoller(cfg PollConfig) *Poller {
	return &Poller{cfg: cfg.Normalize(), sleep: sleepContext}
}

// Config returns the effective poll configuration.
func (p *Poller) Config() PollConfig {
	return p.cfg
}

// Poll calls check until it reports a terminal state, returns an error, or the attempt
// budget runs out. The first check happens immediately.
func Poll[T any](ctx context.Context, p *Poller, check func(ctx context.Context) (T, PollState, error)) (T, error) {
	var zero T
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		out, state, err := check(ctx)
		if err != nil {
			return zero, err
		}
		switch state {
		case PollSucceeded:
			return out, nil
		case PollFailed:
			return zero, ErrPredictionFailed
		case PollPending:
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrPollExhausted, p.cfg.MaxAttempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
