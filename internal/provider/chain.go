package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/catalogue-gen/internal/observability/metrics"
	"github.com/target/catalogue-gen/internal/observability/statsd"
)

// ErrNoBackends is returned when a chain is built without any backend.
var ErrNoBackends = errors.New("provider chain has no backends")

// ChainOptions groups dependencies for Chain.
type ChainOptions struct {
	// Backends in priority order. Fallback is appended after them.
	Backends []Backend
	// Fallback is the backend of last resort; defaults to MockBackend.
	Fallback Backend
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// Chain tries backends in a fixed order until one succeeds. Unconfigured backends are
// skipped without a call; any error from an attempted backend falls through to the next.
type Chain struct {
	backends []Backend
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewChain builds a chain ending in the fallback backend.
func NewChain(opts ChainOptions) *Chain {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewMockBackend()
	}
	backends := make([]Backend, 0, len(opts.Backends)+1)
	for _, b := range opts.Backends {
		if b != nil {
			backends = append(backends, b)
		}
	}
	backends = append(backends, fallback)
	return &Chain{backends: backends, logger: logger.With("component", "provider_chain"), metrics: opts.Metrics}
}

// Active returns the names of the configured backends in the order they are tried.
func (c *Chain) Active() []string {
	out := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		if b.Configured() {
			out = append(out, b.Name())
		}
	}
	return out
}

// GenerateImage implements Generator.
func (c *Chain) GenerateImage(ctx context.Context, src string, opts ImageOptions) (*Result, error) {
	return c.run(ctx, KindImage, func(b Backend) (*Result, error) {
		return b.GenerateImage(ctx, src, opts)
	})
}

// GenerateVideo implements Generator.
func (c *Chain) GenerateVideo(ctx context.Context, src string, opts VideoOptions) (*Result, error) {
	return c.run(ctx, KindVideo, func(b Backend) (*Result, error) {
		return b.GenerateVideo(ctx, src, opts)
	})
}

func (c *Chain) run(ctx context.Context, kind Kind, call func(Backend) (*Result, error)) (*Result, error) {
	if len(c.backends) == 0 {
		return nil, ErrNoBackends
	}

	var errs []error
	for i, b := range c.backends {
		// A cancelled job should stop here rather than degrade to the next backend.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := i == len(c.backends)-1
		if !b.Configured() {
			c.emit(b.Name(), kind, metrics.ResultSkipped, 0, nil)
			continue
		}

		start := time.Now()
		res, err := call(b)
		elapsed := time.Since(start)
		if err == nil && res != nil {
			c.emit(b.Name(), kind, metrics.ResultSuccess, elapsed, nil)
			return res, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty result", ErrMalformedResponse)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		result := metrics.ResultFallback
		if last {
			result = metrics.ResultError
		}
		c.emit(b.Name(), kind, result, elapsed, err)
		c.logger.WarnContext(ctx, "provider attempt failed",
			"backend", b.Name(),
			"kind", string(kind),
			"error", err,
			"fallthrough", !last,
		)
	}
	if len(errs) == 0 {
		return nil, ErrNotConfigured
	}
	return nil, errors.Join(errs...)
}

func (c *Chain) emit(backend string, kind Kind, result string, d time.Duration, err error) {
	metrics.EmitProviderAttempt(c.metrics, metrics.ProviderMetric{
		Backend:  backend,
		Kind:     string(kind),
		Result:   result,
		Duration: d,
		Err:      err,
	})
}

var _ Generator = (*Chain)(nil)
