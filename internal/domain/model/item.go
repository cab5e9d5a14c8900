package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ItemType identifies the kind of generated media.
type ItemType string

const (
	// ItemTypePicture is a still model image.
	ItemTypePicture ItemType = "pictures"
	// ItemTypeClip is a short video clip.
	ItemTypeClip ItemType = "clips"
	// ItemTypeRunwayVideo is the runway-style video.
	ItemTypeRunwayVideo ItemType = "videos"
)

// Valid returns true if the ItemType is valid.
func (t ItemType) Valid() bool {
	return t == ItemTypePicture || t == ItemTypeClip || t == ItemTypeRunwayVideo
}

// IsVideo reports whether items of this type carry a video asset.
func (t ItemType) IsVideo() bool {
	return t == ItemTypeClip || t == ItemTypeRunwayVideo
}

// ItemMetadata is the persisted metadata shape of a catalogue item.
type ItemMetadata struct {
	MarketAppeal  int      `json:"marketAppeal"`
	StyleTags     []string `json:"styleTags"`
	BodyDiversity string   `json:"bodyDiversity"`
	Angles        []string `json:"angles"`
	Duration      *int     `json:"duration,omitempty"`
}

// CatalogueItem is one generated media asset. Items are immutable once created.
type CatalogueItem struct {
	ID           string       `json:"id"           db:"id"`
	JobID        string       `json:"jobId"        db:"job_id"`
	Title        string       `json:"title"        db:"title"`
	Type         ItemType     `json:"type"         db:"type"`
	ThumbnailRef string       `json:"thumbnailUrl" db:"thumbnail_ref"`
	AssetRef     string       `json:"-"            db:"asset_ref"`
	DownloadURL  string       `json:"downloadUrl"  db:"-"`
	Metadata     ItemMetadata `json:"metadata"     db:"metadata"`
	CreatedAt    time.Time    `json:"createdAt"    db:"created_at"`
}

// DownloadPath returns the API path that serves an item's asset.
func DownloadPath(itemID string) string {
	return "/api/catalogue/download/" + itemID
}

// SourceFile is an uploaded garment photograph already written to local scratch storage.
type SourceFile struct {
	Path         string `json:"path"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	OriginalName string `json:"originalName"`
}

// BaseName returns the original file name without directory or extension.
func (f SourceFile) BaseName() string {
	name := f.OriginalName
	if strings.TrimSpace(name) == "" {
		name = f.Path
	}
	name = filepath.Base(name)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// String implements fmt.Stringer for logging.
func (f SourceFile) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", f.BaseName(), f.MimeType, f.Size)
}

// JobStatusView is the status API response: job state plus the items created so far.
type JobStatusView struct {
	JobID     string           `json:"jobId"`
	Status    JobStatus        `json:"status"`
	Progress  int              `json:"progress"`
	Items     []*CatalogueItem `json:"items"`
	Error     *string          `json:"error"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// FileResultParams carries one finished source file: its items, the number of files
// now done and the job progress after it.
type FileResultParams struct {
	JobID     string
	Items     []*CatalogueItem
	FilesDone int
	Progress  int
}
