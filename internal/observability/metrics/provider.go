package metrics

import (
	"time"

	"github.com/target/catalogue-gen/internal/observability/statsd"
)

// Provider attempt results beyond success/error.
const (
	ResultSkipped  = "skipped"
	ResultFallback = "fallback"
)

// ProviderMetric describes one backend attempt inside the fallback chain.
type ProviderMetric struct {
	Backend  string
	Kind     string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitProviderAttempt records a backend attempt and its latency.
func EmitProviderAttempt(sink statsd.Sink, in ProviderMetric) {
	if sink == nil {
		return
	}
	tags := Tags{"backend": in.Backend, "kind": in.Kind, "result": in.Result}.WithError(in.Err)
	sink.Count("provider.attempt", 1, tags)
	if in.Duration > 0 {
		sink.Timing("provider.duration", in.Duration, CloneTags(tags))
	}
}

// ItemMetric summarises the items produced for one source file.
type ItemMetric struct {
	ItemType string
	Created  int
	Failed   int
	Duration time.Duration
}

// EmitItemBatch records created and failed item counts for one generation batch.
func EmitItemBatch(sink statsd.Sink, in ItemMetric) {
	if sink == nil {
		return
	}
	tags := Tags{"item_type": in.ItemType}
	sink.Count("items.created", int64(in.Created), tags)
	if in.Failed > 0 {
		sink.Count("items.failed", int64(in.Failed), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("items.batch_duration", in.Duration, CloneTags(tags))
	}
}
