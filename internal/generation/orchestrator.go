// Package generation turns one source garment photo into catalogue items by driving the
// provider chain and artifact storage through three independent batches.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/target/catalogue-gen/internal/domain/model"
	"github.com/target/catalogue-gen/internal/observability/metrics"
	"github.com/target/catalogue-gen/internal/observability/statsd"
	"github.com/target/catalogue-gen/internal/provider"
	"github.com/target/catalogue-gen/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

const (
	minPictures    = 3
	maxPictures    = 5
	clipCount      = 2
	clipDuration   = 15
	runwayDuration = 30
)

// ErrSourceUnavailable is returned when the uploaded file cannot be read at all.
var ErrSourceUnavailable = errors.New("source file unavailable")

// ArtifactSaver is the subset of the artifact store used by the orchestrator.
type ArtifactSaver interface {
	SaveAsset(ctx context.Context, scratchPath, filename string, kind storage.Kind) (string, error)
	SaveThumbnail(ctx context.Context, scratchPath, filename string) (string, error)
	PublicURL(key string) string
}

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Generator provider.Generator
	Store     ArtifactSaver
	Logger    *slog.Logger
	Metrics   statsd.Sink
	// Source drives every random draw; defaults to the process-wide generator.
	Source Source
	Now    func() time.Time
}

// Orchestrator generates the pictures, clips and runway video for a source file.
type Orchestrator struct {
	gen     provider.Generator
	store   ArtifactSaver
	logger  *slog.Logger
	metrics statsd.Sink
	draw    drawer
	now     func() time.Time
}

// NewOrchestrator validates options and builds an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := opts.Source
	if src == nil {
		src = globalSource{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		gen:     opts.Generator,
		store:   opts.Store,
		logger:  logger.With("component", "orchestrator"),
		metrics: opts.Metrics,
		draw:    drawer{src: src},
		now:     now,
	}, nil
}

// itemSpec is one planned item: its title, type and the provider call producing it.
type itemSpec struct {
	index    int
	title    string
	itemType model.ItemType
	appeal   [2]int
	duration *int
	generate func(ctx context.Context) (*provider.Result, error)
	angles   func(res *provider.Result) []string
}

// ProcessFile runs the three batches concurrently and returns the items that succeeded,
// pictures first, then clips, then the runway video. Individual item failures only reduce
// the output; an error is returned only when the source is unreadable or ctx ends.
func (o *Orchestrator) ProcessFile(ctx context.Context, jobID string, file model.SourceFile) ([]*model.CatalogueItem, error) {
	if _, err := os.Stat(file.Path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, file.BaseName(), err)
	}
	base := norm.NFC.String(file.BaseName())
	logger := o.logger.With("job_id", jobID, "file", base)

	batches := [][]itemSpec{
		o.pictureSpecs(file.Path, base),
		o.clipSpecs(file.Path, base),
		o.runwaySpecs(file.Path, base),
	}
	results := make([][]*model.CatalogueItem, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			items, err := o.runBatch(gctx, logger, jobID, batch)
			results[i] = items
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []*model.CatalogueItem
	for _, batch := range results {
		items = append(items, batch...)
	}
	logger.InfoContext(ctx, "source file processed", "items", len(items))
	return items, nil
}

// runBatch generates a batch sequentially, skipping failed items. It fails only on ctx end.
func (o *Orchestrator) runBatch(ctx context.Context, logger *slog.Logger, jobID string, specs []itemSpec) ([]*model.CatalogueItem, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	start := time.Now()
	items := make([]*model.CatalogueItem, 0, len(specs))
	failed := 0
	for _, spec := range specs {
		item, err := o.buildItem(ctx, jobID, spec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failed++
			logger.WarnContext(ctx, "item generation failed",
				"item_type", string(spec.itemType),
				"index", spec.index,
				"error", err,
			)
			continue
		}
		items = append(items, item)
	}
	metrics.EmitItemBatch(o.metrics, metrics.ItemMetric{
		ItemType: string(specs[0].itemType),
		Created:  len(items),
		Failed:   failed,
		Duration: time.Since(start),
	})
	return items, nil
}

func (o *Orchestrator) buildItem(ctx context.Context, jobID string, spec itemSpec) (*model.CatalogueItem, error) {
	res, err := spec.generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if res == nil || res.AssetPath == "" || res.ThumbnailPath == "" {
		return nil, fmt.Errorf("generate: %w: missing output paths", provider.ErrMalformedResponse)
	}

	id := uuid.NewString()
	thumbKey, err := o.store.SaveThumbnail(ctx, res.ThumbnailPath, id+"_thumb.jpg")
	if err != nil {
		return nil, fmt.Errorf("save thumbnail: %w", err)
	}
	kind, ext := storage.KindImage, ".jpg"
	if spec.itemType.IsVideo() {
		kind, ext = storage.KindVideo, ".mp4"
	}
	assetKey, err := o.store.SaveAsset(ctx, res.AssetPath, id+ext, kind)
	if err != nil {
		return nil, fmt.Errorf("save asset: %w", err)
	}

	angles := spec.angles(res)
	if angles == nil {
		angles = []string{}
	}
	return &model.CatalogueItem{
		ID:           id,
		JobID:        jobID,
		Title:        spec.title,
		Type:         spec.itemType,
		ThumbnailRef: o.store.PublicURL(thumbKey),
		AssetRef:     assetKey,
		DownloadURL:  model.DownloadPath(id),
		Metadata: model.ItemMetadata{
			MarketAppeal:  o.draw.between(spec.appeal[0], spec.appeal[1]),
			StyleTags:     o.draw.styleTags(),
			BodyDiversity: o.draw.pick(BodyTypes),
			Angles:        angles,
			Duration:      spec.duration,
		},
		CreatedAt: o.now().UTC(),
	}, nil
}

func (o *Orchestrator) pictureSpecs(src, base string) []itemSpec {
	n := o.draw.between(minPictures, maxPictures)
	specs := make([]itemSpec, 0, n)
	for i := 1; i <= n; i++ {
		opts := provider.ImageOptions{Pose: o.draw.pick(Poses), Angle: o.draw.pick(Angles)}
		specs = append(specs, itemSpec{
			index:    i,
			title:    fmt.Sprintf("%s - Model Pose %d", base, i),
			itemType: model.ItemTypePicture,
			appeal:   [2]int{70, 100},
			generate: func(ctx context.Context) (*provider.Result, error) {
				return o.gen.GenerateImage(ctx, src, opts)
			},
			angles: func(res *provider.Result) []string { return firstAngle(res, opts.Angle) },
		})
	}
	return specs
}

func (o *Orchestrator) clipSpecs(src, base string) []itemSpec {
	specs := make([]itemSpec, 0, clipCount)
	for i := 1; i <= clipCount; i++ {
		opts := provider.VideoOptions{
			Duration: clipDuration,
			Angle:    o.draw.pick(Angles),
			Movement: o.draw.pick(Movements),
		}
		duration := clipDuration
		specs = append(specs, itemSpec{
			index:    i,
			title:    fmt.Sprintf("%s - 15s Clip %d", base, i),
			itemType: model.ItemTypeClip,
			appeal:   [2]int{70, 100},
			duration: &duration,
			generate: func(ctx context.Context) (*provider.Result, error) {
				return o.gen.GenerateVideo(ctx, src, opts)
			},
			angles: func(res *provider.Result) []string { return firstAngle(res, opts.Angle) },
		})
	}
	return specs
}

func (o *Orchestrator) runwaySpecs(src, base string) []itemSpec {
	opts := provider.VideoOptions{
		Duration:     runwayDuration,
		Style:        "runway",
		CameraAngles: append([]string(nil), RunwayCameras...),
		Walking:      true,
	}
	duration := runwayDuration
	return []itemSpec{{
		index:    1,
		title:    base + " - Runway Video",
		itemType: model.ItemTypeRunwayVideo,
		appeal:   [2]int{80, 100},
		duration: &duration,
		generate: func(ctx context.Context) (*provider.Result, error) {
			return o.gen.GenerateVideo(ctx, src, opts)
		},
		angles: func(res *provider.Result) []string { return res.Angles() },
	}}
}

// firstAngle keeps the angle the backend reports, or the requested one when it reports none.
func firstAngle(res *provider.Result, requested string) []string {
	if got := res.Angles(); len(got) > 0 {
		return got[:1]
	}
	return []string{requested}
}
