package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// RunwayPlaceholderKey is the sample key shipped in example env files.
const RunwayPlaceholderKey = "your-runway-ml-api-key"

// RunwayOptions configures the primary backend.
type RunwayOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Downloader *Downloader
	ImagePoll  PollConfig
	VideoPoll  PollConfig
	Logger     *slog.Logger
}

// RunwayBackend calls an image-to-model / image-to-video API that answers either with
// the output directly or with a job id to poll at /jobs/{id}.
type RunwayBackend struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	downloader *Downloader
	imagePoll  *Poller
	videoPoll  *Poller
	logger     *slog.Logger
}

// NewRunwayBackend constructs the backend. It never fails; an unusable key only makes
// Configured report false.
func NewRunwayBackend(opts RunwayOptions) *RunwayBackend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ImagePoll.MaxAttempts == 0 {
		opts.ImagePoll = DefaultImagePoll()
	}
	if opts.VideoPoll.MaxAttempts == 0 {
		opts.VideoPoll = DefaultVideoPoll()
	}
	downloader := opts.Downloader
	if downloader == nil {
		downloader = NewDownloader(nil, os.TempDir())
	}
	return &RunwayBackend{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		client:     newBearerClient(opts.HTTPClient, strings.TrimSpace(opts.APIKey)),
		downloader: downloader,
		imagePoll:  NewPoller(opts.ImagePoll),
		videoPoll:  NewPoller(opts.VideoPoll),
		logger:     logger.With("backend", "runway"),
	}
}

// Name implements Backend.
func (b *RunwayBackend) Name() string { return "runway" }

// Configured implements Backend.
func (b *RunwayBackend) Configured() bool {
	return b.baseURL != "" && !IsPlaceholder(b.apiKey, RunwayPlaceholderKey)
}

type runwayJob struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ImageURL     string `json:"image_url"`
	VideoURL     string `json:"video_url"`
	OutputURL    string `json:"output_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Error        string `json:"error"`
}

func (j *runwayJob) id() string {
	if j.JobID != "" {
		return j.JobID
	}
	return j.ID
}

func (j *runwayJob) output(kind Kind) string {
	if j.OutputURL != "" {
		return j.OutputURL
	}
	if kind == KindVideo {
		return j.VideoURL
	}
	return j.ImageURL
}

func (j *runwayJob) state() PollState {
	switch strings.ToLower(j.Status) {
	case "completed", "succeeded":
		return PollSucceeded
	case "failed", "cancelled", "canceled":
		return PollFailed
	case "":
		if j.ImageURL != "" || j.VideoURL != "" || j.OutputURL != "" {
			return PollSucceeded
		}
	}
	return PollPending
}

// GenerateImage implements Generator.
func (b *RunwayBackend) GenerateImage(ctx context.Context, src string, opts ImageOptions) (*Result, error) {
	if !b.Configured() {
		return nil, ErrNotConfigured
	}
	image, err := encodeImage(src)
	if err != nil {
		return nil, err
	}
	pose, angle := opts.Pose, opts.Angle
	if pose == "" {
		pose = "standing"
	}
	if angle == "" {
		angle = "front"
	}

	job, err := b.submit(ctx, "/image-to-model", map[string]any{
		"image":     image,
		"pose":      pose,
		"angle":     angle,
		"style":     "realistic",
		"diversity": true,
	}, KindImage)
	if err != nil {
		return nil, err
	}

	asset, err := b.downloader.Fetch(ctx, job.output(KindImage), ".jpg")
	if err != nil {
		return nil, err
	}
	thumb := asset
	if job.ThumbnailURL != "" {
		if thumb, err = b.downloader.Fetch(ctx, job.ThumbnailURL, ".jpg"); err != nil {
			return nil, err
		}
	}
	echo := opts
	return &Result{Kind: KindImage, AssetPath: asset, ThumbnailPath: thumb, Backend: b.Name(), Image: &echo}, nil
}

// GenerateVideo implements Generator.
func (b *RunwayBackend) GenerateVideo(ctx context.Context, src string, opts VideoOptions) (*Result, error) {
	if !b.Configured() {
		return nil, ErrNotConfigured
	}
	image, err := encodeImage(src)
	if err != nil {
		return nil, err
	}
	duration := opts.Duration
	if duration <= 0 {
		duration = 15
	}

	job, err := b.submit(ctx, "/image-to-video", map[string]any{
		"image":         image,
		"duration":      duration,
		"angle":         opts.Angle,
		"movement":      opts.Movement,
		"style":         opts.Style,
		"camera_angles": opts.CameraAngles,
		"walking":       opts.Walking,
	}, KindVideo)
	if err != nil {
		return nil, err
	}

	asset, err := b.downloader.Fetch(ctx, job.output(KindVideo), ".mp4")
	if err != nil {
		return nil, err
	}
	// Without a remote poster frame the source photo stands in as the thumbnail.
	thumb := src
	if job.ThumbnailURL != "" {
		if thumb, err = b.downloader.Fetch(ctx, job.ThumbnailURL, ".jpg"); err != nil {
			return nil, err
		}
	}
	echo := opts
	return &Result{Kind: KindVideo, AssetPath: asset, ThumbnailPath: thumb, Backend: b.Name(), Video: &echo}, nil
}

// submit starts a generation job and, when the answer is not immediate, polls it to completion.
func (b *RunwayBackend) submit(ctx context.Context, path string, body map[string]any, kind Kind) (*runwayJob, error) {
	var job runwayJob
	if err := doJSON(ctx, b.client, jsonRequest{
		Backend: b.Name(),
		Method:  http.MethodPost,
		URL:     b.baseURL + path,
		Body:    body,
	}, &job); err != nil {
		return nil, err
	}

	switch job.state() {
	case PollSucceeded:
		return b.checkOutput(&job, kind)
	case PollFailed:
		return nil, fmt.Errorf("%w: %s", ErrPredictionFailed, job.Error)
	case PollPending:
	}
	if job.id() == "" {
		return nil, fmt.Errorf("%w: no output and no job id", ErrMalformedResponse)
	}

	poller := b.imagePoll
	if kind == KindVideo {
		poller = b.videoPoll
	}
	jobURL := b.baseURL + "/jobs/" + url.PathEscape(job.id())
	done, err := Poll(ctx, poller, func(ctx context.Context) (*runwayJob, PollState, error) {
		var polled runwayJob
		if err := doJSON(ctx, b.client, jsonRequest{Backend: b.Name(), Method: http.MethodGet, URL: jobURL}, &polled); err != nil {
			return nil, PollPending, err
		}
		b.logger.DebugContext(ctx, "polled runway job", "job", job.id(), "status", polled.Status)
		return &polled, polled.state(), nil
	})
	if err != nil {
		return nil, err
	}
	return b.checkOutput(done, kind)
}

func (b *RunwayBackend) checkOutput(job *runwayJob, kind Kind) (*runwayJob, error) {
	if job.output(kind) == "" {
		return nil, fmt.Errorf("%w: missing %s url", ErrMalformedResponse, kind)
	}
	return job, nil
}

var _ Backend = (*RunwayBackend)(nil)
