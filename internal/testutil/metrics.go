package testutil

import (
	"sync"
	"time"
)

// MetricCall is one recorded metric emission.
type MetricCall struct {
	Kind  string
	Name  string
	Value float64
	Tags  map[string]string
}

// RecordingSink is an in-memory statsd.Sink for assertions.
type RecordingSink struct {
	mu    sync.Mutex
	calls []MetricCall
}

// Count implements statsd.Sink.
func (r *RecordingSink) Count(name string, value int64, tags map[string]string) {
	r.record("count", name, float64(value), tags)
}

// Gauge implements statsd.Sink.
func (r *RecordingSink) Gauge(name string, value float64, tags map[string]string) {
	r.record("gauge", name, value, tags)
}

// Timing implements statsd.Sink.
func (r *RecordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.record("timing", name, float64(value.Milliseconds()), tags)
}

func (r *RecordingSink) record(kind, name string, value float64, tags map[string]string) {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	r.mu.Lock()
	r.calls = append(r.calls, MetricCall{Kind: kind, Name: name, Value: value, Tags: cp})
	r.mu.Unlock()
}

// Calls returns the recorded emissions with the given name.
func (r *RecordingSink) Calls(name string) []MetricCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MetricCall
	for _, c := range r.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
