// Package provider abstracts the generative backends that turn a garment photo into
// model images and videos. Backends are tried in a fixed order by Chain, which ends in
// a local deterministic backend so a generate call always yields a result.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned by backends without usable credentials.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrPredictionFailed is returned when a backend reports a failed or cancelled job.
	ErrPredictionFailed = errors.New("provider reported failure")
	// ErrPollExhausted is returned when a job did not finish within the poll budget.
	ErrPollExhausted = errors.New("provider poll attempts exhausted")
	// ErrMalformedResponse is returned when a backend payload lacks required fields.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Kind distinguishes image and video generation.
type Kind string

const (
	// KindImage is image-to-image generation.
	KindImage Kind = "image"
	// KindVideo is image-to-video generation.
	KindVideo Kind = "video"
)

// ImageOptions are the generation options for a model picture.
type ImageOptions struct {
	Pose  string `json:"pose,omitempty"`
	Angle string `json:"angle,omitempty"`
}

// VideoOptions are the generation options for clips and runway videos.
type VideoOptions struct {
	Duration     int      `json:"duration,omitempty"`
	Angle        string   `json:"angle,omitempty"`
	Movement     string   `json:"movement,omitempty"`
	Style        string   `json:"style,omitempty"`
	CameraAngles []string `json:"camera_angles,omitempty"`
	Walking      bool     `json:"walking"`
}

// Result is the output of one generation call. AssetPath and ThumbnailPath point at local
// scratch files owned by the backend; callers copy them and never move or delete them.
type Result struct {
	Kind          Kind
	AssetPath     string
	ThumbnailPath string
	Backend       string
	Image         *ImageOptions
	Video         *VideoOptions
}

// Angles returns the camera angles the result was generated with.
func (r *Result) Angles() []string {
	switch {
	case r == nil:
		return nil
	case r.Video != nil && len(r.Video.CameraAngles) > 0:
		return append([]string(nil), r.Video.CameraAngles...)
	case r.Video != nil && r.Video.Angle != "":
		return []string{r.Video.Angle}
	case r.Image != nil && r.Image.Angle != "":
		return []string{r.Image.Angle}
	}
	return nil
}

// Generator is the capability contract shared by backends and the chain.
type Generator interface {
	GenerateImage(ctx context.Context, src string, opts ImageOptions) (*Result, error)
	GenerateVideo(ctx context.Context, src string, opts VideoOptions) (*Result, error)
}

// Backend is one generative service.
type Backend interface {
	Generator
	Name() string
	// Configured reports whether the backend has usable credentials. Unconfigured
	// backends are skipped without a call.
	Configured() bool
}

// IsPlaceholder reports whether a credential is empty or a known sample value.
func IsPlaceholder(credential string, placeholders ...string) bool {
	if credential == "" {
		return true
	}
	for _, p := range placeholders {
		if credential == p {
			return true
		}
	}
	return false
}
