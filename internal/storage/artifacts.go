// Package storage copies generated media from scratch space into the durable, publicly
// served upload tree.
package storage

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

// Kind selects the durable subdirectory for an asset.
type Kind string

const (
	// KindImage assets live under images/.
	KindImage Kind = "image"
	// KindVideo assets live under videos/.
	KindVideo Kind = "video"
)

const thumbnailsDir = "thumbnails"

var (
	// ErrInvalidKey is returned for keys that are empty or escape the storage root.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrNotFound is returned when a stored artifact does not exist.
	ErrNotFound = errors.New("storage: artifact not found")
)

// ArtifactStore persists artifacts onto the local filesystem under root. Durable paths
// handed out by the store are slash-separated keys relative to root.
type ArtifactStore struct {
	root         string
	publicPrefix string
}

// NewArtifactStore initializes a store rooted at root and creates its subdirectories.
func NewArtifactStore(root, publicPrefix string) (*ArtifactStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	for _, dir := range []string{"images", "videos", thumbnailsDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("storage: ensure %s: %w", dir, err)
		}
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(publicPrefix), "/")
	if prefix == "/" {
		prefix = "/uploads"
	}
	return &ArtifactStore{root: abs, publicPrefix: prefix}, nil
}

// Root returns the absolute storage root.
func (s *ArtifactStore) Root() string { return s.root }

// SaveAsset copies scratchPath to images/ or videos/ under filename and returns the key.
func (s *ArtifactStore) SaveAsset(ctx context.Context, scratchPath, filename string, kind Kind) (string, error) {
	dir := "images"
	if kind == KindVideo {
		dir = "videos"
	}
	return s.save(ctx, scratchPath, dir+"/"+filename)
}

// SaveThumbnail copies scratchPath to thumbnails/ under filename and returns the key.
func (s *ArtifactStore) SaveThumbnail(ctx context.Context, scratchPath, filename string) (string, error) {
	return s.save(ctx, scratchPath, thumbnailsDir+"/"+filename)
}

// PublicURL maps a key to the URL it is served under.
func (s *ArtifactStore) PublicURL(key string) string {
	clean, err := sanitizeKey(key)
	if err != nil {
		return ""
	}
	return s.publicPrefix + "/" + clean
}

// KeyFromURL reverses PublicURL. It returns ErrInvalidKey for URLs outside the public prefix.
func (s *ArtifactStore) KeyFromURL(publicURL string) (string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(publicURL), s.publicPrefix+"/")
	if !ok {
		return "", ErrInvalidKey
	}
	return sanitizeKey(rest)
}

// Resolve returns the absolute filesystem path of an existing artifact.
func (s *ArtifactStore) Resolve(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("%w: %s", ErrNotFound, clean)
	case err != nil:
		return "", fmt.Errorf("storage: stat: %w", err)
	case info.IsDir():
		return "", fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return full, nil
}

// Remove deletes an artifact. Missing files are not an error.
func (s *ArtifactStore) Remove(key string) error {
	clean, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove: %w", err)
	}
	return nil
}

// save copies the source rather than moving it: scratch files stay owned by whoever made them.
func (s *ArtifactStore) save(ctx context.Context, scratchPath, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := copyFile(scratchPath, dest); err != nil {
		return "", err
	}
	return clean, nil
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("storage: open source: %w", err)
	}
	defer in.Close()

	// Readers of the public tree never see a half-written file.
	tmp := dest + ".tmp-" + uuid.NewString()
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	_, copyErr := io.Copy(out, in)
	if err = errors.Join(copyErr, out.Close()); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("storage: commit file: %w", err)
	}
	return nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(key)))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
