package httpx

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const readyTimeout = 2 * time.Second

// ReadyCheck probes one backing store for /readyz.
type ReadyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler answers liveness probes. HEAD gets headers only.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	WriteJSON(w, http.StatusOK, healthBody{Status: "ok"})
}

// readyHandler pings every check concurrently and answers 503 when any fails. The
// body names each check with "ok" or its error.
func readyHandler(checks []ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			healthHandler(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			healthy = true
			results = make(map[string]string, len(checks))
		)
		for _, c := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := "ok"
				if err := c.Ping(ctx); err != nil {
					res = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				results[c.Name] = res
				healthy = healthy && res == "ok"
			}()
		}
		wg.Wait()

		if !healthy {
			WriteJSON(w, http.StatusServiceUnavailable, healthBody{Status: "not_ready", Checks: results})
			return
		}
		WriteJSON(w, http.StatusOK, healthBody{Status: "ok", Checks: results})
	}
}
