package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// ArtifactFile is the published GeoJSON document on disk.
type ArtifactFile struct {
	path string
}

// NewArtifactFile returns an ArtifactFile at path.
func NewArtifactFile(path string) *ArtifactFile {
	return &ArtifactFile{path: path}
}

// Path returns the artifact location.
func (a *ArtifactFile) Path() string { return a.path }

// Publish writes a new artifact through a temp file and swaps it in. On
// failure the previous artifact is left in place.
func (a *ArtifactFile) Publish(ctx context.Context, write func(w io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteFileAtomic(a.path, write)
}

// Open returns the current artifact and its file info. ErrNotFound means no
// artifact has been published yet.
func (a *ArtifactFile) Open() (*os.File, os.FileInfo, error) {
	f, err := os.Open(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("artifact: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open artifact: %v", domain.ErrIOFailure, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: stat artifact: %v", domain.ErrIOFailure, err)
	}
	return f, info, nil
}
