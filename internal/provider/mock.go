package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MockBackend is the deterministic last resort. It never calls the network: outputs are
// copies of the source placed next to it under predictable names.
type MockBackend struct{}

// NewMockBackend returns the local fallback backend.
func NewMockBackend() *MockBackend { return &MockBackend{} }

// Name implements Backend.
func (*MockBackend) Name() string { return "mock" }

// Configured implements Backend. The mock is always available.
func (*MockBackend) Configured() bool { return true }

// MockImagePaths returns the asset and thumbnail paths the mock produces for src.
func MockImagePaths(src string) (asset, thumb string) {
	dir, base, ext := splitSource(src)
	return filepath.Join(dir, base+"_generated"+ext), filepath.Join(dir, base+"_thumb"+ext)
}

// MockVideoPaths returns the asset and thumbnail paths the mock produces for src.
func MockVideoPaths(src string) (asset, thumb string) {
	dir, base, _ := splitSource(src)
	return filepath.Join(dir, base+"_video.mp4"), filepath.Join(dir, base+"_thumb.jpg")
}

// GenerateImage implements Generator.
func (m *MockBackend) GenerateImage(_ context.Context, src string, opts ImageOptions) (*Result, error) {
	asset, thumb := MockImagePaths(src)
	if err := materialize(src, asset, thumb); err != nil {
		return nil, err
	}
	echo := opts
	return &Result{Kind: KindImage, AssetPath: asset, ThumbnailPath: thumb, Backend: m.Name(), Image: &echo}, nil
}

// GenerateVideo implements Generator.
func (m *MockBackend) GenerateVideo(_ context.Context, src string, opts VideoOptions) (*Result, error) {
	asset, thumb := MockVideoPaths(src)
	if err := materialize(src, asset, thumb); err != nil {
		return nil, err
	}
	echo := opts
	if len(echo.CameraAngles) > 0 {
		echo.CameraAngles = append([]string(nil), opts.CameraAngles...)
	}
	return &Result{Kind: KindVideo, AssetPath: asset, ThumbnailPath: thumb, Backend: m.Name(), Video: &echo}, nil
}

func splitSource(src string) (dir, base, ext string) {
	dir = filepath.Dir(src)
	name := filepath.Base(src)
	ext = filepath.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".jpg"
	}
	return dir, base, ext
}

// materialize copies src to each destination. Concurrent calls for the same source write
// identical bytes, so each copy goes through a temp file and an atomic rename.
func materialize(src string, dests ...string) error {
	for _, dst := range dests {
		if err := copyAtomic(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyAtomic(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("mock: open source: %w", err)
	}
	defer in.Close()

	tmp := dst + "." + uuid.NewString() + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("mock: create output: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	_, copyErr := io.Copy(out, in)
	if err = errors.Join(copyErr, out.Close()); err != nil {
		return fmt.Errorf("mock: write output: %w", err)
	}
	if err = os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("mock: rename output: %w", err)
	}
	return nil
}

var _ Backend = (*MockBackend)(nil)
