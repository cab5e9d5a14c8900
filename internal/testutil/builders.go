// Package testutil provides testing utilities and helpers for the catalogue generation pipeline.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/target/catalogue-gen/internal/domain/model"
)

// jpegStub is a minimal JPEG header; enough for content sniffing, not for decoding.
var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0xFF, 0xD9}

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with one placeholder file.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			OwnerID: "owner-" + uuid.NewString()[:8],
			Files: []model.SourceFile{{
				Path:         "/tmp/uploads/temp/dress.jpg",
				MimeType:     "image/jpeg",
				Size:         int64(len(jpegStub)),
				OriginalName: "dress.jpg",
			}},
			MaxAttempts: 3,
		},
	}
}

// WithOwner sets the owner id.
func (b *JobRequestBuilder) WithOwner(ownerID string) *JobRequestBuilder {
	b.req.OwnerID = ownerID
	return b
}

// WithFiles replaces the file list.
func (b *JobRequestBuilder) WithFiles(files ...model.SourceFile) *JobRequestBuilder {
	b.req.Files = files
	return b
}

// WithMaxAttempts sets the maximum number of attempts.
func (b *JobRequestBuilder) WithMaxAttempts(n int) *JobRequestBuilder {
	b.req.MaxAttempts = n
	return b
}

// Build returns the built request.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// BuildValue returns the built request as a value.
func (b *JobRequestBuilder) BuildValue() model.CreateJobRequest {
	return *b.req
}

// WriteSourceImages writes n small JPEG files into dir and returns them as source files.
func WriteSourceImages(t TestingTB, dir string, n int) []model.SourceFile {
	t.Helper()
	files := make([]model.SourceFile, 0, n)
	for i := range n {
		name := "garment-" + strconv.Itoa(i+1) + ".jpg"
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, jpegStub, 0o600); err != nil {
			t.Fatalf("write source image: %v", err)
		}
		files = append(files, model.SourceFile{
			Path:         path,
			MimeType:     "image/jpeg",
			Size:         int64(len(jpegStub)),
			OriginalName: name,
		})
	}
	return files
}
