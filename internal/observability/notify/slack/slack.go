// Package slack posts catalogue job failures to an incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/target/catalogue-gen/internal/observability/notify"
)

const defaultUsername = "catalogue-gen"

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// StatusURLPrefix links the job id to a status page, e.g. https://host/api/catalogue/jobs.
	StatusURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	retryLimit int
	statusURL  *url.URL
	http       *http.Client
}

// message is the webhook body. Text carries the full fallback rendering; Blocks
// renders the same content as a header plus a two-column field grid.
type message struct {
	Text     string  `json:"text"`
	Username string  `json:"username,omitempty"`
	Channel  string  `json:"channel,omitempty"`
	Blocks   []block `json:"blocks,omitempty"`
}

type block struct {
	Type   string     `json:"type"`
	Text   *textPart  `json:"text,omitempty"`
	Fields []textPart `json:"fields,omitempty"`
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type field struct{ label, value string }

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   strings.TrimSpace(cfg.Username),
		retryLimit: max(cfg.RetryLimit, 0),
		http:       hc,
	}
	if c.username == "" {
		c.username = defaultUsername
	}
	if u, err := url.Parse(strings.TrimSpace(cfg.StatusURLPrefix)); err == nil && u.Scheme != "" && u.Host != "" {
		c.statusURL = u
	}
	return c, nil
}

// SendJobFailure posts a formatted message to Slack, retrying with a linear backoff.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.formatMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if lastErr = c.post(ctx, body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) formatMessage(p notify.JobFailurePayload) message {
	p = p.Normalize()

	headline := "*Catalogue job failed*"
	if job := c.formatJobValue(p.JobID); job != "" {
		headline += " " + job
	}

	fields := []field{
		{"Severity", p.Severity},
		{"Owner", escaper.Replace(p.OwnerID)},
		{"Attempts", formatAttempts(p.Attempts, p.MaxAttempts)},
		{"Files", positive(p.Files, "")},
		{"Progress", positive(p.Progress, "%")},
		{"Error class", p.ErrorClass},
		{"Error", escaper.Replace(p.Error)},
	}
	fields = slices.DeleteFunc(fields, func(f field) bool { return strings.TrimSpace(f.value) == "" })

	var text strings.Builder
	text.WriteString(headline)
	text.WriteByte('\n')
	grid := make([]textPart, 0, len(fields))
	for _, f := range fields {
		fmt.Fprintf(&text, "• %s: %s\n", f.label, f.value)
		grid = append(grid, textPart{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", f.label, f.value)})
	}
	if len(p.Metadata) > 0 {
		text.WriteString("• Metadata:\n")
		for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
			fmt.Fprintf(&text, "    • %s: %s\n", k, escaper.Replace(p.Metadata[k]))
		}
	}
	text.WriteString("• Timestamp: ")
	text.WriteString(p.OccurredAt.Format(time.RFC3339))

	blocks := []block{{Type: "section", Text: &textPart{Type: "mrkdwn", Text: headline}}}
	// Slack caps a section at ten fields.
	for chunk := range slices.Chunk(grid, 10) {
		blocks = append(blocks, block{Type: "section", Fields: chunk})
	}

	return message{
		Text:     text.String(),
		Username: c.username,
		Channel:  c.channel,
		Blocks:   blocks,
	}
}

func (c *Client) formatJobValue(jobID string) string {
	raw := strings.TrimSpace(jobID)
	if raw == "" {
		return ""
	}
	if c.statusURL != nil {
		return fmt.Sprintf("<%s|%s>", c.statusURL.JoinPath(raw).String(), escaper.Replace(raw))
	}
	return "`" + escaper.Replace(raw) + "`"
}

func formatAttempts(attempts, maxAttempts int) string {
	switch {
	case attempts <= 0:
		return ""
	case maxAttempts > 0:
		return fmt.Sprintf("%d/%d", attempts, maxAttempts)
	default:
		return strconv.Itoa(attempts)
	}
}

func positive(n int, suffix string) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n) + suffix
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read slack response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}
