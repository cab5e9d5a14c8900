// Package notify defines the payload shared by the job failure sinks.
package notify

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
)

// JobFailurePayload describes a catalogue job that reached the failed state.
type JobFailurePayload struct {
	JobID       string
	OwnerID     string
	Attempts    int
	MaxAttempts int
	Files       int
	Progress    int
	Error       string
	ErrorClass  string
	Severity    string
	OccurredAt  time.Time
	Metadata    map[string]string
}

// Normalize returns a copy ready for delivery: severity lower-cased and defaulted to
// critical, OccurredAt set to now when missing, and Metadata cloned so sinks may mutate it.
func (p JobFailurePayload) Normalize() JobFailurePayload {
	p.Severity = strings.ToLower(strings.TrimSpace(p.Severity))
	if p.Severity == "" {
		p.Severity = SeverityCritical
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = time.Now()
	}
	p.OccurredAt = p.OccurredAt.UTC()
	p.Metadata = maps.Clone(p.Metadata)
	return p
}

// Summary is the one-line description shared by every sink.
func (p JobFailurePayload) Summary() string {
	id := p.JobID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("Catalogue job %s failed after %d attempt(s)", id, p.Attempts)
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
