package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	t.Run("GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("HEAD", func(t *testing.T) {
		rec := httptest.NewRecorder()
		healthHandler(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Zero(t, rec.Body.Len())
	})
}

func pingResult(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name   string
		checks []ReadyCheck
		status int
		want   map[string]string
	}{
		{name: "no checks configured", status: http.StatusOK},
		{
			name:   "all reachable",
			checks: []ReadyCheck{{"postgres", pingResult(nil)}, {"redis", pingResult(nil)}},
			status: http.StatusOK,
			want:   map[string]string{"postgres": "ok", "redis": "ok"},
		},
		{
			name:   "redis down",
			checks: []ReadyCheck{{"postgres", pingResult(nil)}, {"redis", pingResult(errors.New("connection refused"))}},
			status: http.StatusServiceUnavailable,
			want:   map[string]string{"postgres": "ok", "redis": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			readyHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, tt.status, rec.Code)
			var body healthBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Checks)
		})
	}
}
