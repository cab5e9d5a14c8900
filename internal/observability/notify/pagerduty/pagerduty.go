// Package pagerduty raises catalogue job failures as PagerDuty Events API v2 triggers.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/target/catalogue-gen/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

const (
	defaultSource    = "catalogue-gen"
	defaultComponent = "catalogue-worker"
	retryStep        = 200 * time.Millisecond
)

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
}

// Client triggers one incident per failed job.
type Client struct {
	endpoint   string
	routingKey string
	source     string
	component  string
	retryLimit int
	http       *http.Client
}

type event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key"`
	Payload     eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	Component     string         `json:"component"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details"`
}

// apiError is a non-2xx response. 429 and 5xx are worth retrying; other 4xx mean the
// event itself was rejected.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("pagerduty api %d %s: %s", e.status, http.StatusText(e.status), e.body)
}

func (e *apiError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// NewClient requires a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint:   orDefault(cfg.Endpoint, APIEndpoint),
		routingKey: key,
		source:     orDefault(cfg.Source, defaultSource),
		component:  orDefault(cfg.Component, defaultComponent),
		retryLimit: max(cfg.RetryLimit, 0),
		http:       hc,
	}, nil
}

// SendJobFailure triggers an incident, retrying transport errors, 429s and 5xx responses.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(time.Duration(attempt) * retryStep):
			}
		}
		lastErr = c.post(ctx, body)
		var apiErr *apiError
		if lastErr == nil || (errors.As(lastErr, &apiErr) && !apiErr.retryable()) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) buildEvent(p notify.JobFailurePayload) event {
	p = p.Normalize()

	details := make(map[string]any, len(p.Metadata)+8)
	for k, v := range p.Metadata {
		details[k] = v
	}
	// Canonical fields are written last so metadata can never mask them.
	details["job_id"] = p.JobID
	details["owner_id"] = p.OwnerID
	details["attempts"] = p.Attempts
	details["max_attempts"] = p.MaxAttempts
	details["files"] = p.Files
	details["progress"] = p.Progress
	details["error"] = p.Error
	details["error_class"] = p.ErrorClass

	return event{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    "catalogue:" + orDefault(p.JobID, "unknown"),
		Payload: eventPayload{
			Summary:       p.Summary(),
			Severity:      p.Severity,
			Source:        c.source,
			Component:     c.component,
			Timestamp:     p.OccurredAt.Format(time.RFC3339),
			CustomDetails: details,
		},
	}
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request: %w", err)
	}
	defer resp.Body.Close()

	msg, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read pagerduty response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	return nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
