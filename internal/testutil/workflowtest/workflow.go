// Package workflowtest wires the whole catalogue pipeline for end-to-end tests: the HTTP
// API, the Postgres queue, a worker pool and the local mock provider.
package workflowtest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalogue-gen/internal/adapters/jobrunner"
	"github.com/target/catalogue-gen/internal/core"
	"github.com/target/catalogue-gen/internal/data"
	domainjob "github.com/target/catalogue-gen/internal/domain/job"
	"github.com/target/catalogue-gen/internal/domain/model"
	"github.com/target/catalogue-gen/internal/generation"
	httpx "github.com/target/catalogue-gen/internal/http"
	"github.com/target/catalogue-gen/internal/provider"
	"github.com/target/catalogue-gen/internal/service"
	"github.com/target/catalogue-gen/internal/storage"
	"github.com/target/catalogue-gen/internal/testutil"
)

// WorkflowTestHarness provides utilities for end-to-end workflow testing.
//
//nolint:revive // WorkflowTestHarness is intentionally verbose for clarity in test code.
type WorkflowTestHarness struct {
	t  testutil.TestingTB
	db *sql.DB
	ts *httptest.Server

	JobRepo   *data.JobRepo
	ItemRepo  *data.ItemRepo
	Artifacts *storage.ArtifactStore
	Metrics   *testutil.RecordingSink

	JobSvc       *service.JobService
	CatalogueSvc *service.CatalogueService
	Generator    core.ContentGenerator

	RedisClient *redis.Client

	opts       WorkflowTestOptions
	stopWorker context.CancelFunc
	workerWG   sync.WaitGroup
}

// WorkflowTestOptions configures the workflow test harness.
//
//nolint:revive // WorkflowTestOptions is intentionally verbose for clarity in test code.
type WorkflowTestOptions struct {
	// EnableRedis turns the status cache on.
	EnableRedis bool
	// JobLease sets the default job lease duration.
	JobLease time.Duration
	// Workers is the worker pool size started by StartWorker.
	Workers int
	// Retry overrides the job-level retry policy.
	Retry domainjob.RetryPolicy
	// StorageRoot is where artifacts land; required.
	StorageRoot string
	// Backends are tried before the mock fallback.
	Backends []provider.Backend
}

// DefaultWorkflowOptions returns options for a single-worker pipeline without Redis.
func DefaultWorkflowOptions(storageRoot string) WorkflowTestOptions {
	return WorkflowTestOptions{
		JobLease:    30 * time.Second,
		Workers:     1,
		Retry:       domainjob.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Second},
		StorageRoot: storageRoot,
	}
}

// RedisWorkflowOptions returns DefaultWorkflowOptions with the status cache enabled.
func RedisWorkflowOptions(storageRoot string) WorkflowTestOptions {
	opts := DefaultWorkflowOptions(storageRoot)
	opts.EnableRedis = true
	return opts
}

// NewWorkflowTestHarness creates a new workflow test harness with all components wired up.
func NewWorkflowTestHarness(t testutil.TestingTB, db *sql.DB, opts WorkflowTestOptions) *WorkflowTestHarness {
	t.Helper()

	if opts.JobLease == 0 {
		opts.JobLease = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.StorageRoot == "" {
		t.Fatalf("StorageRoot is required")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &WorkflowTestHarness{t: t, db: db, opts: opts, Metrics: &testutil.RecordingSink{}}

	repoCfg := data.RepoConfig{Retry: opts.Retry, Logger: logger}
	h.JobRepo = data.NewJobRepo(db, repoCfg)
	h.ItemRepo = data.NewItemRepo(db, repoCfg)

	var cache core.StatusCache
	if opts.EnableRedis {
		h.RedisClient = testutil.SetupTestRedis(t)
		cache = data.NewRedisStatusCache(h.RedisClient, data.DefaultStatusTTLs())
	}

	artifacts, err := storage.NewArtifactStore(opts.StorageRoot, "/uploads")
	if err != nil {
		t.Fatalf("create artifact store: %v", err)
	}
	h.Artifacts = artifacts

	chain := provider.NewChain(provider.ChainOptions{
		Backends: opts.Backends,
		Logger:   logger,
		Metrics:  h.Metrics,
	})
	h.Generator, err = generation.NewOrchestrator(generation.OrchestratorOptions{
		Generator: chain,
		Store:     artifacts,
		Logger:    logger,
		Metrics:   h.Metrics,
	})
	if err != nil {
		t.Fatalf("create orchestrator: %v", err)
	}

	h.JobSvc, err = service.NewJobService(service.JobServiceOptions{
		Repo:         h.JobRepo,
		Items:        h.ItemRepo,
		Cache:        cache,
		DefaultLease: opts.JobLease,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("create job service: %v", err)
	}
	h.CatalogueSvc, err = service.NewCatalogueService(service.CatalogueServiceOptions{
		Jobs:      h.JobRepo,
		Items:     h.ItemRepo,
		Artifacts: artifacts,
		Cache:     cache,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("create catalogue service: %v", err)
	}

	h.ts = httptest.NewServer(httpx.NewRouter(httpx.RouterServices{
		Catalogue:     h.CatalogueSvc,
		Metrics:       h.Metrics,
		Logger:        logger,
		UploadsRoot:   opts.StorageRoot,
		UploadsPrefix: "/uploads",
	}))
	return h
}

// URL returns the base URL of the harness API server.
func (h *WorkflowTestHarness) URL() string {
	return h.ts.URL
}

// StartWorker starts the worker pool in the background. Close stops it.
func (h *WorkflowTestHarness) StartWorker() {
	h.t.Helper()
	if h.stopWorker != nil {
		return
	}

	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Jobs:        h.JobSvc,
		Generator:   h.Generator,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:     h.Metrics,
		Lease:       h.opts.JobLease,
		Concurrency: h.opts.Workers,
		IdlePoll:    50 * time.Millisecond,
	})
	if err != nil {
		h.t.Fatalf("create runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.stopWorker = cancel
	h.workerWG.Add(1)
	go func() {
		defer h.workerWG.Done()
		if runErr := runner.Run(ctx); runErr != nil {
			h.t.Logf("runner stopped with error: %v", runErr)
		}
	}()
}

// StopWorker cancels the worker pool and waits for in-flight jobs to be finalized.
func (h *WorkflowTestHarness) StopWorker() {
	if h.stopWorker == nil {
		return
	}
	h.stopWorker()
	h.workerWG.Wait()
	h.stopWorker = nil
}

// Close stops the worker, the HTTP server and the notification listener.
func (h *WorkflowTestHarness) Close() {
	h.StopWorker()
	h.JobSvc.StopAllListeners()
	if h.ts != nil {
		h.ts.Close()
	}
	if h.RedisClient != nil {
		if err := h.RedisClient.Close(); err != nil {
			h.t.Logf("warning: failed to close redis client: %v", err)
		}
	}
}

// SourceFiles writes n garment images under the storage root's temp dir.
func (h *WorkflowTestHarness) SourceFiles(n int) []model.SourceFile {
	h.t.Helper()
	return testutil.WriteSourceImages(h.t, filepath.Join(h.opts.StorageRoot, "temp"), n)
}

type createJobResponse struct {
	JobID  string          `json:"jobId"`
	Status model.JobStatus `json:"status"`
}

// SubmitJob posts a job through the API and returns its id.
func (h *WorkflowTestHarness) SubmitJob(ownerID string, files []model.SourceFile) string {
	h.t.Helper()

	body, err := json.Marshal(model.CreateJobRequest{OwnerID: ownerID, Files: files})
	if err != nil {
		h.t.Fatalf("marshal job request: %v", err)
	}
	resp := h.do(http.MethodPost, "/api/catalogue/jobs", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		h.t.Fatalf("create job: status %d: %s", resp.StatusCode, readBody(resp))
	}

	var out createJobResponse
	h.decode(resp, &out)
	return out.JobID
}

// Status fetches a job's status view through the API.
func (h *WorkflowTestHarness) Status(jobID string) (*model.JobStatusView, int) {
	h.t.Helper()

	resp := h.do(http.MethodGet, "/api/catalogue/jobs/"+jobID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode
	}
	var view model.JobStatusView
	h.decode(resp, &view)
	return &view, resp.StatusCode
}

// Cancel requests cancellation through the API and returns the HTTP status.
func (h *WorkflowTestHarness) Cancel(jobID string) int {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/api/catalogue/jobs/"+jobID+"/cancel", nil)
	defer resp.Body.Close()
	return resp.StatusCode
}

// Download fetches an item's asset through the API.
func (h *WorkflowTestHarness) Download(itemID string) ([]byte, int) {
	h.t.Helper()
	resp := h.do(http.MethodGet, "/api/catalogue/download/"+itemID, nil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read download: %v", err)
	}
	return raw, resp.StatusCode
}

// WaitForStatus polls the API until the job reaches want or timeout elapses.
func (h *WorkflowTestHarness) WaitForStatus(jobID string, want model.JobStatus, timeout time.Duration) *model.JobStatusView {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	var last *model.JobStatusView
	for time.Now().Before(deadline) {
		view, code := h.Status(jobID)
		if code == http.StatusOK {
			last = view
			if view.Status == want {
				return view
			}
		}
		time.Sleep(25 * time.Millisecond)
	}

	lastStatus := "unknown"
	if last != nil {
		lastStatus = string(last.Status)
	}
	h.t.Fatalf("job %s did not reach %s within %s (last status %s)", jobID, want, timeout, lastStatus)
	return nil
}

func (h *WorkflowTestHarness) do(method, path string, body []byte) *http.Response {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.ts.URL+path, reader)
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.ts.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	// Buffer so callers can close the body after ctx is cancelled.
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		h.t.Fatalf("read %s %s: %v", method, path, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp
}

func (h *WorkflowTestHarness) decode(resp *http.Response, out any) {
	h.t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

func readBody(resp *http.Response) string {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	return string(raw)
}
