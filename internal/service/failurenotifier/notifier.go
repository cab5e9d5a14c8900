// Package failurenotifier fans catalogue job failures out to the configured sinks.
package failurenotifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/catalogue-gen/internal/observability/notify"
	"github.com/target/catalogue-gen/internal/observability/statsd"
	"golang.org/x/sync/errgroup"
)

const defaultDeliveryTimeout = 30 * time.Second

// SinkRegistration names a sink for logs and metrics.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger  *slog.Logger
	Metrics statsd.Sink
	Sinks   []SinkRegistration
	// DeliveryTimeout bounds one fan-out, retries included. Defaults to 30s.
	DeliveryTimeout time.Duration
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger  *slog.Logger
	metrics statsd.Sink
	sinks   []SinkRegistration
	timeout time.Duration
}

// NewService drops nil sinks and names anonymous ones "sink".
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "failure_notifier")
	}
	timeout := opts.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}

	s := &Service{logger: logger, metrics: opts.Metrics, timeout: timeout}
	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink"
		}
		s.sinks = append(s.sinks, reg)
	}
	return s
}

// NotifyJobFailure delivers payload to every sink concurrently and waits for all of them.
// A failing sink never stops the others; their errors are logged and returned joined.
// Delivery is detached from ctx cancellation so a shutting-down worker still pages.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	if !s.Enabled() {
		return nil
	}
	payload = payload.Normalize()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	errs := make([]error, len(s.sinks))
	var g errgroup.Group
	for i, reg := range s.sinks {
		g.Go(func() error {
			start := time.Now()
			err := reg.Sink.SendJobFailure(ctx, payload)
			s.record(reg.Name, err, time.Since(start))
			if err != nil {
				s.logger.ErrorContext(ctx, "failure notification not delivered",
					"sink", reg.Name,
					"job_id", payload.JobID,
					"owner_id", payload.OwnerID,
					"error", err,
				)
				errs[i] = fmt.Errorf("%s: %w", reg.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Service) record(sink string, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	tags := map[string]string{"sink": sink, "result": result}
	s.metrics.Count("notify.delivery", 1, tags)
	s.metrics.Timing("notify.delivery_duration", elapsed, tags)
}

// Enabled reports whether any sink is registered. Safe on a nil *Service.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

// SinkNames lists the registered sinks in registration order.
func (s *Service) SinkNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.sinks))
	for i, reg := range s.sinks {
		names[i] = reg.Name
	}
	return names
}
