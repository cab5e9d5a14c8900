package config

import (
	"strings"
	"time"
)

const (
	minPollInterval = 2 * time.Second
	maxPollInterval = 5 * time.Second
)

// ProvidersConfig configures the generation backends tried in order before the mock.
type ProvidersConfig struct {
	// RunwayAPIKey authenticates against the Runway-style API. The placeholder key counts as unset.
	RunwayAPIKey  string `env:"RUNWAY_ML_API_KEY"`
	RunwayBaseURL string `env:"RUNWAY_ML_API_URL" envDefault:"https://api.runwayml.com/v1"`

	// PredictionToken authenticates against the prediction API.
	PredictionToken        string `env:"PREDICTION_API_TOKEN"`
	PredictionBaseURL      string `env:"PREDICTION_API_URL"       envDefault:"https://api.replicate.com/v1"`
	PredictionImageVersion string `env:"PREDICTION_IMAGE_VERSION"`
	PredictionVideoVersion string `env:"PREDICTION_VIDEO_VERSION"`
	// PredictionOutputExpr is a JMESPath expression selecting the output URL from a finished prediction.
	PredictionOutputExpr string `env:"PREDICTION_OUTPUT_EXPR" envDefault:"output[0] || output"`

	// PollInterval is the delay between status polls; clamped to [2s,5s].
	PollInterval      time.Duration `env:"PROVIDER_POLL_INTERVAL"       envDefault:"5s"`
	ImagePollAttempts int           `env:"PROVIDER_IMAGE_POLL_ATTEMPTS" envDefault:"60"`
	VideoPollAttempts int           `env:"PROVIDER_VIDEO_POLL_ATTEMPTS" envDefault:"120"`

	// RequestTimeout bounds each HTTP call to a backend.
	RequestTimeout time.Duration `env:"PROVIDER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// Sanitize applies guardrails to provider configuration values.
func (p *ProvidersConfig) Sanitize() {
	p.RunwayAPIKey = strings.TrimSpace(p.RunwayAPIKey)
	p.RunwayBaseURL = strings.TrimRight(strings.TrimSpace(p.RunwayBaseURL), "/")
	p.PredictionToken = strings.TrimSpace(p.PredictionToken)
	p.PredictionBaseURL = strings.TrimRight(strings.TrimSpace(p.PredictionBaseURL), "/")
	if strings.TrimSpace(p.PredictionOutputExpr) == "" {
		p.PredictionOutputExpr = "output[0] || output"
	}

	if p.PollInterval < minPollInterval {
		p.PollInterval = minPollInterval
	}
	if p.PollInterval > maxPollInterval {
		p.PollInterval = maxPollInterval
	}
	if p.ImagePollAttempts < 1 {
		p.ImagePollAttempts = 1
	}
	if p.VideoPollAttempts < 1 {
		p.VideoPollAttempts = 1
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 60 * time.Second
	}
}
