// Package metrics holds the metric names and tag conventions shared by the worker,
// the provider chain and the reaper.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/catalogue-gen/internal/observability/errors"
	"github.com/target/catalogue-gen/internal/observability/statsd"
)

// Result tag values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Job transitions reported by the worker.
const (
	TransitionCompleted = "completed"
	TransitionFailed    = "failed"
	TransitionCancelled = "cancelled"
	TransitionRequeued  = "requeued"
)

// Tags is a metric tag set. With and WithError return copies, so one base set can
// be shared by several metrics without aliasing.
type Tags map[string]string

// With returns a copy of t with key set to value. Empty keys are ignored.
func (t Tags) With(key, value string) Tags {
	out := CloneTags(t)
	if out == nil {
		out = Tags{}
	}
	if key != "" {
		out[key] = value
	}
	return out
}

// WithError adds error_class when err is non-nil and classifiable.
func (t Tags) WithError(err error) Tags {
	if err == nil {
		return CloneTags(t)
	}
	if class := obserrors.Classify(err); class != "" {
		return t.With("error_class", class)
	}
	return CloneTags(t)
}

// CloneTags copies src, dropping empty keys. It returns nil for an empty set.
func CloneTags(src map[string]string) Tags {
	if len(src) == 0 {
		return nil
	}
	out := make(Tags, len(src))
	maps.Copy(out, src)
	delete(out, "")
	return out
}

// JobMetric describes one finalised job run.
type JobMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	// QueueWait is the time between the job becoming eligible and a worker claiming it.
	QueueWait time.Duration
	Files     int
	Items     int
	Attempt   int
	Err       error
}

// EmitJobLifecycle reports job.transition plus duration, wait and size metrics that
// share its tags.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := Tags{"transition": in.Transition, "result": in.Result}
	if in.Attempt > 1 {
		tags["redelivered"] = "true"
	}
	if in.Result == ResultError {
		tags = tags.WithError(in.Err)
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
	if in.QueueWait > 0 {
		sink.Timing("job.queue_wait", in.QueueWait, CloneTags(tags))
	}
	for name, n := range map[string]int{"job.files": in.Files, "job.items": in.Items} {
		if n > 0 {
			sink.Count(name, int64(n), CloneTags(tags))
		}
	}
}
