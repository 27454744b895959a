package ports

import (
	"context"
	"io"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// PointIterator is a lazy, one-pass sequence of points.
type PointIterator interface {
	Next() bool
	Point() domain.Point
	Err() error
	Close() error
}

// PointLog is the durable, append-only store of accepted points.
type PointLog interface {
	Append(ctx context.Context, p domain.Point) error
	Scan(ctx context.Context, redact bool) (PointIterator, error)
	LastPoint(ctx context.Context) (*domain.Point, error)
	Cursor() *domain.Point
	Reset(ctx context.Context) error
}

// ZoneRepository loads the current privacy zone list.
type ZoneRepository interface {
	List(ctx context.Context) ([]domain.PrivacyZone, error)
}

// ZoneMatcher answers point-in-zone queries.
type ZoneMatcher interface {
	Contains(ctx context.Context, lat, lon float64) bool
}

// RoutesetRepository persists named snapshots of the point log.
type RoutesetRepository interface {
	List(ctx context.Context) ([]domain.Routeset, error)
	Get(ctx context.Context, id string) (*domain.Routeset, error)
	// Create stores the metadata and calls write with the snapshot file.
	Create(ctx context.Context, rs *domain.Routeset, write func(w io.Writer) (int, error)) error
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// ArtifactStore publishes the derived public artifact. Publish must replace
// the artifact atomically: readers see either the old or the new document.
type ArtifactStore interface {
	Publish(ctx context.Context, write func(w io.Writer) error) error
}
