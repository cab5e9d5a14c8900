package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/target/catalogue-gen/internal/observability/statsd"
)

var errNotFound = errors.New("resource not found")

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Catalogue CatalogueAPI
	Ready     []ReadyCheck // Optional: /readyz probes
	Metrics   statsd.Sink  // Optional: request timings
	Logger    *slog.Logger // Optional: defaults to slog.Default()

	// Stored artifacts are served read-only from UploadsRoot under UploadsPrefix.
	UploadsRoot   string
	UploadsPrefix string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, Logging(logger, services.Metrics), middleware.Recoverer)

	r.Get("/healthz", healthHandler)
	r.Head("/healthz", healthHandler)
	r.Get("/readyz", readyHandler(services.Ready))

	if services.Catalogue != nil {
		h := &CatalogueHandlers{Svc: services.Catalogue, Logger: logger}
		r.Route("/api/catalogue", func(r chi.Router) {
			r.Post("/jobs", h.CreateJob)
			r.Get("/jobs/{id}", h.GetStatus)
			r.Post("/jobs/{id}/cancel", h.CancelJob)
			r.Delete("/jobs/{id}", h.DeleteJob)
			r.Get("/owners/{ownerId}/jobs", h.ListOwnerJobs)
			r.Get("/download/{itemId}", h.Download)
		})
	}

	if services.UploadsRoot != "" {
		prefix := "/" + strings.Trim(services.UploadsPrefix, "/")
		if prefix == "/" {
			prefix = "/uploads"
		}
		r.Handle(prefix+"/*", http.StripPrefix(prefix, uploadsHandler(services.UploadsRoot)))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errNotFound})
	})
	return r
}

// uploadsHandler serves files from root without directory listings.
func uploadsHandler(root string) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errNotFound})
			return
		}
		files.ServeHTTP(w, r)
	})
}
