// Package httpx provides the HTTP adapter for the catalogue generation API.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/target/catalogue-gen/internal/domain/model"
)

// CatalogueAPI is the service surface the handlers drive.
type CatalogueAPI interface {
	Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.GenerationJob, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	ListJobs(ctx context.Context, opts model.ListJobsOptions) (*model.JobPage, error)
	GetItemAssetPath(ctx context.Context, itemID string) (*model.CatalogueItem, string, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// CatalogueHandlers serves the catalogue job endpoints.
type CatalogueHandlers struct {
	Svc    CatalogueAPI
	Logger *slog.Logger
}

type createJobResponse struct {
	JobID   string          `json:"jobId"`
	Status  model.JobStatus `json:"status"`
	Message string          `json:"message"`
}

// CreateJob handles POST /api/catalogue/jobs.
func (h *CatalogueHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Enqueue(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, createJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Catalogue generation queued. Poll the status endpoint for progress.",
	})
}

// GetStatus handles GET /api/catalogue/jobs/{id}.
func (h *CatalogueHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// CancelJob handles POST /api/catalogue/jobs/{id}/cancel.
func (h *CatalogueHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if !cancelled {
		WriteError(w, ErrorParams{
			Code:    http.StatusConflict,
			ErrCode: "not_cancellable",
			Err:     errors.New("job already finished"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"cancelled": true, "message": "Job cancelled successfully"})
}

// DeleteJob handles DELETE /api/catalogue/jobs/{id}.
func (h *CatalogueHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOwnerJobs handles GET /api/catalogue/owners/{ownerId}/jobs.
func (h *CatalogueHandlers) ListOwnerJobs(w http.ResponseWriter, r *http.Request) {
	page, ok := intQuery(w, r, "page")
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}

	result, err := h.Svc.ListJobs(r.Context(), model.ListJobsOptions{
		OwnerID: chi.URLParam(r, "ownerId"),
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Download handles GET /api/catalogue/download/{itemId} by streaming the stored asset.
func (h *CatalogueHandlers) Download(w http.ResponseWriter, r *http.Request) {
	item, path, err := h.Svc.GetItemAssetPath(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	filename := item.ID + filepath.Ext(path)
	if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	http.ServeFile(w, r, path)
}

// intQuery parses an optional integer query parameter; absent means zero so the
// service applies its default.
func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_query",
			Err:     errors.New(key + " must be an integer"),
			Field:   key,
		})
		return 0, false
	}
	return n, true
}
