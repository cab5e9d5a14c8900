package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/catalogue-gen/internal/adapters/reaper"
	"github.com/target/catalogue-gen/internal/data"
	"github.com/target/catalogue-gen/internal/domain/model"
)

type listJobsOptions struct {
	OwnerID string
	Page    int
	Limit   int
}

type clearCacheOptions struct {
	DryRun bool
	Yes    bool
}

func runQueueStats(a *app, _ []string) error {
	st, err := a.openStores(needDB)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	ctx, cancel := a.withTimeout(defaultCommandTimeout)
	defer cancel()

	counts, err := a.jobRepo(st).CountByStatus(ctx)
	if err != nil {
		return err
	}
	return renderQueueStats(a.out, counts)
}

func runListJobs(a *app, args []string) error {
	opts, err := parseListJobsFlags(args, a.errOut)
	if err != nil {
		return err
	}

	st, err := a.openStores(needDB)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	ctx, cancel := a.withTimeout(defaultCommandTimeout)
	defer cancel()

	page, err := a.jobRepo(st).ListByOwner(ctx, data.NormalizeListOptions(model.ListJobsOptions{
		OwnerID: opts.OwnerID,
		Page:    opts.Page,
		Limit:   opts.Limit,
	}))
	if err != nil {
		return err
	}
	return renderJobPage(a.out, page)
}

func runShowJob(a *app, args []string) error {
	jobID, err := parseShowJobFlags(args, a.errOut)
	if err != nil {
		return err
	}

	st, err := a.openStores(needDB | wantRedis)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	ctx, cancel := a.withTimeout(defaultCommandTimeout)
	defer cancel()

	job, err := a.jobRepo(st).GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	items, err := data.NewItemRepo(st.db, data.RepoConfig{Logger: a.logger}).ListByJob(ctx, jobID)
	if err != nil {
		return err
	}

	var snap *model.JobSnapshot
	if st.redis != nil {
		snap, err = data.NewRedisStatusCache(st.redis, data.DefaultStatusTTLs()).Get(ctx, jobID)
		if err != nil && !errors.Is(err, data.ErrCacheMiss) {
			a.logger.Warn("status cache lookup failed", "job_id", jobID, "error", err)
		}
	}
	return renderJob(a.out, job, items, snap)
}

func runRecoverExpired(a *app, _ []string) error {
	st, err := a.openStores(needDB | wantRedis)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	ctx, cancel := a.withTimeout(defaultCommandTimeout)
	defer cancel()

	n, err := a.jobRepo(st).RecoverExpired(ctx)
	if err != nil {
		return err
	}
	return a.printf("Recovered %d job(s) with expired leases.\n", n)
}

func runReap(a *app, _ []string) error {
	st, err := a.openStores(needDB | wantRedis)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:         st.db,
		Config:     a.cfg.Reaper,
		Logger:     a.logger,
		RepoConfig: a.repoConfig(st),
	})
	if err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(defaultMigrationTimeout)
	defer cancel()
	if err := runner.Sweep(ctx); err != nil {
		return err
	}
	return a.printf("Reaper sweep completed.\n")
}

func runClearStatusCache(a *app, args []string) error {
	opts, err := parseClearCacheFlags(args, a.errOut)
	if err != nil {
		return err
	}

	st, err := a.openStores(needRedis)
	if err != nil {
		return err
	}
	defer st.close(a.logger)

	if opts.DryRun {
		return a.printf("Dry run: no status snapshots were deleted.\n")
	}
	if err := a.confirm(confirmation{
		action:  "clear job status snapshots",
		warning: "WARNING: this removes every cached job status snapshot; status reads fall back to Postgres.",
		yes:     opts.Yes,
	}); err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(defaultCommandTimeout)
	defer cancel()

	removed, err := data.NewRedisStatusCache(st.redis, data.DefaultStatusTTLs()).Clear(ctx)
	if err != nil {
		return err
	}
	return a.printf("Deleted %d status snapshot(s).\n", removed)
}

func parseListJobsFlags(args []string, out io.Writer) (listJobsOptions, error) {
	fs := newFlagSet("list-jobs", out)
	opts := listJobsOptions{}
	fs.StringVar(&opts.OwnerID, "owner", "", "Owner whose jobs to list (required)")
	fs.IntVar(&opts.Page, "page", 1, "Page number, starting at 1")
	fs.IntVar(&opts.Limit, "limit", 10, "Jobs per page (max 100)")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}
	opts.OwnerID = strings.TrimSpace(opts.OwnerID)
	if opts.OwnerID == "" {
		return listJobsOptions{}, errors.New("--owner is required")
	}
	return opts, nil
}

func parseShowJobFlags(args []string, out io.Writer) (string, error) {
	fs := newFlagSet("show-job", out)
	jobID := fs.String("job-id", "", "Job to show (required)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	id := strings.TrimSpace(*jobID)
	if id == "" {
		return "", errors.New("--job-id is required")
	}
	return id, nil
}

func parseClearCacheFlags(args []string, out io.Writer) (clearCacheOptions, error) {
	fs := newFlagSet("clear-status-cache", out)
	opts := clearCacheOptions{}
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Connect but do not delete anything")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return clearCacheOptions{}, err
	}
	return opts, nil
}

// printer remembers the first write error so render code can stay linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}

func renderQueueStats(w io.Writer, counts map[model.JobStatus]int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := &printer{w: tw}
	p.printf("STATUS\tJOBS\n")
	total := 0
	for _, status := range model.AllJobStatuses() {
		total += counts[status]
		p.printf("%s\t%d\n", status, counts[status])
	}
	p.printf("total\t%d\n", total)
	return errors.Join(p.err, tw.Flush())
}

func renderJobPage(w io.Writer, page *model.JobPage) error {
	p := &printer{w: w}
	if page == nil || len(page.Jobs) == 0 {
		p.printf("No jobs found.\n")
		return p.err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	tp := &printer{w: tw}
	tp.printf("ID\tSTATUS\tPROGRESS\tFILES\tATTEMPTS\tCREATED\n")
	for _, job := range page.Jobs {
		tp.printf("%s\t%s\t%d%%\t%d\t%d/%d\t%s\n",
			job.ID, job.Status, job.Progress, len(job.Files),
			job.Attempts, job.MaxAttempts, job.CreatedAt.UTC().Format(time.RFC3339))
	}
	if err := errors.Join(tp.err, tw.Flush()); err != nil {
		return err
	}

	pg := page.Pagination
	p.printf("\nPage %d of %d (%d jobs total)\n", pg.Page, pg.TotalPages, pg.Total)
	return p.err
}

func renderJob(w io.Writer, job *model.GenerationJob, items []*model.CatalogueItem, snap *model.JobSnapshot) error {
	p := &printer{w: w}
	p.printf("Job %s (owner %s)\n", job.ID, job.OwnerID)
	p.printf("Status: %s, progress %d%%, files %d/%d, attempts %d/%d\n",
		job.Status, job.Progress, job.FilesDone, len(job.Files), job.Attempts, job.MaxAttempts)
	if job.Error != nil && *job.Error != "" {
		p.printf("Error: %s\n", *job.Error)
	}
	if job.CancelRequested && !job.Status.Terminal() {
		p.printf("Cancel requested; the worker stops at the next file boundary.\n")
	}
	if snap != nil {
		p.printf("Cached: %s, progress %d%% (updated %s)\n",
			snap.Status, snap.Progress, snap.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if len(items) == 0 {
		p.printf("\nNo catalogue items.\n")
		return p.err
	}
	p.printf("\nItems (%d):\n", len(items))
	if p.err != nil {
		return p.err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	tp := &printer{w: tw}
	tp.printf("ID\tTYPE\tTITLE\tASSET\n")
	for _, item := range items {
		tp.printf("%s\t%s\t%s\t%s\n", item.ID, item.Type, item.Title, item.AssetRef)
	}
	return errors.Join(tp.err, tw.Flush())
}
