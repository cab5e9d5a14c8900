package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

const (
	// PredictionPlaceholderToken is the sample token shipped in example env files.
	PredictionPlaceholderToken = "your-prediction-api-token"
	// DefaultOutputExpr extracts the first output URL from list or scalar outputs.
	DefaultOutputExpr = "output[0] || output"
)

// PredictionOptions configures the secondary, prediction-style backend.
type PredictionOptions struct {
	Token        string
	BaseURL      string
	ImageVersion string
	VideoVersion string
	// OutputExpr is a JMESPath expression selecting the output URL from a finished prediction.
	OutputExpr string
	HTTPClient *http.Client
	Downloader *Downloader
	ImagePoll  PollConfig
	VideoPoll  PollConfig
	Logger     *slog.Logger
}

// PredictionBackend creates predictions against versioned hosted models and polls
// /predictions/{id} until they settle.
type PredictionBackend struct {
	token        string
	baseURL      string
	imageVersion string
	videoVersion string
	outputExpr   string
	client       *http.Client
	downloader   *Downloader
	imagePoll    *Poller
	videoPoll    *Poller
	logger       *slog.Logger
}

// NewPredictionBackend constructs the backend. An invalid output expression is an error.
func NewPredictionBackend(opts PredictionOptions) (*PredictionBackend, error) {
	expr := strings.TrimSpace(opts.OutputExpr)
	if expr == "" {
		expr = DefaultOutputExpr
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("compile output expression %q: %w", expr, err)
	}

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
	token := strings.TrimSpace(opts.Token)
	return &PredictionBackend{
		token:        token,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		imageVersion: opts.ImageVersion,
		videoVersion: opts.VideoVersion,
		outputExpr:   expr,
		client:       newBearerClient(opts.HTTPClient, token),
		downloader:   downloader,
		imagePoll:    NewPoller(opts.ImagePoll),
		videoPoll:    NewPoller(opts.VideoPoll),
		logger:       logger.With("backend", "prediction"),
	}, nil
}

// Name implements Backend.
func (b *PredictionBackend) Name() string { return "prediction" }

// Configured implements Backend.
func (b *PredictionBackend) Configured() bool {
	return b.baseURL != "" && !IsPlaceholder(b.token, PredictionPlaceholderToken)
}

type prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  any    `json:"error"`
	raw    map[string]any
}

func (p *prediction) state() PollState {
	switch p.Status {
	case "succeeded":
		return PollSucceeded
	case "failed", "canceled", "cancelled":
		return PollFailed
	default:
		return PollPending
	}
}

// GenerateImage implements Generator.
func (b *PredictionBackend) GenerateImage(ctx context.Context, src string, opts ImageOptions) (*Result, error) {
	if !b.Configured() {
		return nil, ErrNotConfigured
	}
	image, err := dataURI(src)
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"image":  image,
		"prompt": fmt.Sprintf("fashion model wearing this garment, %s pose, %s view, studio lighting", nonEmpty(opts.Pose, "standing"), nonEmpty(opts.Angle, "front")),
	}
	outURL, err := b.run(ctx, b.imageVersion, input, b.imagePoll)
	if err != nil {
		return nil, err
	}
	asset, err := b.downloader.Fetch(ctx, outURL, ".jpg")
	if err != nil {
		return nil, err
	}
	echo := opts
	return &Result{Kind: KindImage, AssetPath: asset, ThumbnailPath: asset, Backend: b.Name(), Image: &echo}, nil
}

// GenerateVideo implements Generator.
func (b *PredictionBackend) GenerateVideo(ctx context.Context, src string, opts VideoOptions) (*Result, error) {
	if !b.Configured() {
		return nil, ErrNotConfigured
	}
	image, err := dataURI(src)
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"image":    image,
		"duration": opts.Duration,
		"prompt":   fmt.Sprintf("fashion model %s, %s camera, %s style", nonEmpty(opts.Movement, "posing"), nonEmpty(opts.Angle, "front"), nonEmpty(opts.Style, "catalogue")),
	}
	outURL, err := b.run(ctx, b.videoVersion, input, b.videoPoll)
	if err != nil {
		return nil, err
	}
	asset, err := b.downloader.Fetch(ctx, outURL, ".mp4")
	if err != nil {
		return nil, err
	}
	echo := opts
	return &Result{Kind: KindVideo, AssetPath: asset, ThumbnailPath: src, Backend: b.Name(), Video: &echo}, nil
}

// run creates a prediction and polls it, returning the extracted output URL.
func (b *PredictionBackend) run(ctx context.Context, version string, input map[string]any, poller *Poller) (string, error) {
	if version == "" {
		return "", fmt.Errorf("%w: model version not set", ErrNotConfigured)
	}
	created, err := b.fetch(ctx, http.MethodPost, b.baseURL+"/predictions", map[string]any{
		"version": version,
		"input":   input,
	})
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: prediction id missing", ErrMalformedResponse)
	}

	pollURL := b.baseURL + "/predictions/" + url.PathEscape(created.ID)
	done, err := Poll(ctx, poller, func(ctx context.Context) (*prediction, PollState, error) {
		p, err := b.fetch(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return nil, PollPending, err
		}
		b.logger.DebugContext(ctx, "polled prediction", "prediction", created.ID, "status", p.Status)
		if p.state() == PollFailed {
			b.logger.WarnContext(ctx, "prediction failed", "prediction", created.ID, "error", p.Error)
		}
		return p, p.state(), nil
	})
	if err != nil {
		return "", err
	}
	return b.extractOutput(done)
}

func (b *PredictionBackend) fetch(ctx context.Context, method, target string, body any) (*prediction, error) {
	var raw map[string]any
	if err := doJSON(ctx, b.client, jsonRequest{Backend: b.Name(), Method: method, URL: target, Body: body}, &raw); err != nil {
		return nil, err
	}
	p := &prediction{raw: raw}
	if id, ok := raw["id"].(string); ok {
		p.ID = id
	}
	if status, ok := raw["status"].(string); ok {
		p.Status = status
	}
	p.Error = raw["error"]
	return p, nil
}

func (b *PredictionBackend) extractOutput(p *prediction) (string, error) {
	out, err := jmespath.Search(b.outputExpr, p.raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if v, ok := out.(string); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: no output url in prediction %s", ErrMalformedResponse, p.ID)
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

var _ Backend = (*PredictionBackend)(nil)
