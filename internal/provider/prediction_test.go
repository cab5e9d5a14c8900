package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrediction(t *testing.T, srv *httptest.Server, expr string) *PredictionBackend {
	t.Helper()
	b, err := NewPredictionBackend(PredictionOptions{
		Token:        "r8_token",
		BaseURL:      srv.URL,
		ImageVersion: "img-v1",
		VideoVersion: "vid-v1",
		OutputExpr:   expr,
		Downloader:   NewDownloader(srv.Client(), t.TempDir()),
		ImagePoll:    PollConfig{MaxAttempts: 3},
		VideoPoll:    PollConfig{MaxAttempts: 3},
	})
	require.NoError(t, err)
	b.imagePoll.sleep = noSleep
	b.videoPoll.sleep = noSleep
	return b
}

func TestNewPredictionBackendRejectsBadExpression(t *testing.T) {
	_, err := NewPredictionBackend(PredictionOptions{OutputExpr: "output[["})
	require.Error(t, err)
}

func TestPredictionConfigured(t *testing.T) {
	b, err := NewPredictionBackend(PredictionOptions{Token: PredictionPlaceholderToken, BaseURL: "http://x"})
	require.NoError(t, err)
	assert.False(t, b.Configured())

	b, err = NewPredictionBackend(PredictionOptions{Token: "r8_token", BaseURL: "http://x"})
	require.NoError(t, err)
	assert.True(t, b.Configured())
}

func TestPredictionImageFlow(t *testing.T) {
	var srvURL string
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			assert.Equal(t, "Bearer r8_token", r.Header.Get("Authorization"))
			var body struct {
				Version string         `json:"version"`
				Input   map[string]any `json:"input"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "img-v1", body.Version)
			assert.True(t, strings.HasPrefix(body.Input["image"].(string), "data:"))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "p1", "status": "starting"})
		case r.URL.Path == "/predictions/p1":
			if polls.Add(1) == 1 {
				_ = json.NewEncoder(w).Encode(map[string]any{"id": "p1", "status": "processing"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "p1",
				"status": "succeeded",
				"output": []string{srvURL + "/out/0.jpg", srvURL + "/out/1.jpg"},
			})
		case r.URL.Path == "/out/0.jpg":
			_, _ = w.Write([]byte("first"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	res, err := newTestPrediction(t, srv, "").GenerateImage(context.Background(), writeSource(t, "a.jpg"), ImageOptions{Pose: "sitting"})
	require.NoError(t, err)
	raw, err := os.ReadFile(res.AssetPath)
	require.NoError(t, err)
	assert.Equal(t, "first", string(raw))
	assert.Equal(t, "sitting", res.Image.Pose)
}

func TestPredictionScalarOutputAndCustomExpression(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/predictions":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "p2", "status": "starting"})
		case "/predictions/p2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "p2",
				"status": "succeeded",
				"output": map[string]any{"video": srvURL + "/out/v.mp4"},
			})
		default:
			_, _ = w.Write([]byte("video"))
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	src := writeSource(t, "a.jpg")
	res, err := newTestPrediction(t, srv, "output.video").GenerateVideo(context.Background(), src, VideoOptions{Duration: 15})
	require.NoError(t, err)
	assert.Equal(t, src, res.ThumbnailPath)
	assert.FileExists(t, res.AssetPath)
}

func TestPredictionFailures(t *testing.T) {
	tests := []struct {
		name    string
		poll    map[string]any
		wantErr error
	}{
		{"failed", map[string]any{"id": "p", "status": "failed", "error": "nsfw"}, ErrPredictionFailed},
		{"canceled", map[string]any{"id": "p", "status": "canceled"}, ErrPredictionFailed},
		{"no output", map[string]any{"id": "p", "status": "succeeded", "output": nil}, ErrMalformedResponse},
		{"never settles", map[string]any{"id": "p", "status": "processing"}, ErrPollExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/predictions" {
					_ = json.NewEncoder(w).Encode(map[string]any{"id": "p", "status": "starting"})
					return
				}
				_ = json.NewEncoder(w).Encode(tt.poll)
			}))
			defer srv.Close()

			_, err := newTestPrediction(t, srv, "").GenerateImage(context.Background(), writeSource(t, "a.jpg"), ImageOptions{})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPredictionMissingVersion(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := newTestPrediction(t, srv, "")
	b.imageVersion = ""
	_, err := b.GenerateImage(context.Background(), writeSource(t, "a.jpg"), ImageOptions{})
	require.ErrorIs(t, err, ErrNotConfigured)
}
