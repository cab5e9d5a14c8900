package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultRequestTimeout = 60 * time.Second
	maxResponseBytes      = 1 << 20
)

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// ErrorClass tags metrics with the status family, e.g. http_4xx.
func (e *StatusError) ErrorClass() string {
	return fmt.Sprintf("http_%dxx", e.StatusCode/100)
}

// newBearerClient wraps base so every request carries the token as a bearer credential.
func newBearerClient(base *http.Client, token string) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: defaultRequestTimeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = base.Timeout
	return client
}

// doJSON sends body (if any) as JSON and decodes a JSON response into out.
func doJSON(ctx context.Context, client *http.Client, req jsonRequest, out any) error {
	var reader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Backend: req.Backend, StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

type jsonRequest struct {
	Backend string
	Method  string
	URL     string
	Body    any
}

// encodeImage returns the file at path as standard base64.
func encodeImage(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// dataURI returns the file at path as a data URI with the detected content type.
func dataURI(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source image: %w", err)
	}
	return "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
