package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const defaultMaxDownloadBytes = 512 << 20

// Downloader fetches remote outputs into the scratch directory. Scratch files are never
// removed here; cleaning them up is outside the client's responsibility.
type Downloader struct {
	client     *http.Client
	scratchDir string
	maxBytes   int64
}

// NewDownloader creates a downloader writing under scratchDir.
func NewDownloader(client *http.Client, scratchDir string) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout * 5}
	}
	return &Downloader{client: client, scratchDir: scratchDir, maxBytes: defaultMaxDownloadBytes}
}

// Fetch downloads url to <scratch>/<uuid><ext> and returns the local path.
func (d *Downloader) Fetch(ctx context.Context, url, ext string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("%w: empty output url", ErrMalformedResponse)
	}
	if err := os.MkdirAll(d.scratchDir, 0o750); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Backend: "download", StatusCode: resp.StatusCode}
	}

	path := filepath.Join(d.scratchDir, uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, d.maxBytes+1))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if n > d.maxBytes {
		_ = os.Remove(path)
		return "", fmt.Errorf("download %s exceeds %d bytes", url, d.maxBytes)
	}
	return path, nil
}
