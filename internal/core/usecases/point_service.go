package usecases

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/jsonstream"
)

// Rebuilder rebuilds the public artifact on demand.
type Rebuilder interface {
	ForceRebuild(ctx context.Context) error
}

// PointService serves read projections of the point log and its admin
// operations. Every projection streams from the log; none is held in memory.
type PointService struct {
	log       ports.PointLog
	rebuilder Rebuilder
}

// NewPointService creates a PointService. rebuilder may be nil.
func NewPointService(log ports.PointLog, rebuilder Rebuilder) *PointService {
	return &PointService{log: log, rebuilder: rebuilder}
}

// WriteArray streams the log to w as a JSON array and returns the number of
// points written.
func (s *PointService) WriteArray(ctx context.Context, w io.Writer, redact bool) (int, error) {
	it, err := s.log.Scan(ctx, redact)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	aw := jsonstream.NewArrayWriter(w)
	for it.Next() {
		if err := aw.Encode(it.Point()); err != nil {
			return aw.Count(), err
		}
	}
	if err := it.Err(); err != nil {
		return aw.Count(), fmt.Errorf("scan point log: %w", err)
	}
	return aw.Count(), aw.Close()
}

// WriteGeoJSON streams the log to w as a GeoJSON line and returns the number
// of vertices.
func (s *PointService) WriteGeoJSON(ctx context.Context, w io.Writer, redact bool) (int, error) {
	it, err := s.log.Scan(ctx, redact)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	lb := jsonstream.NewLineBuilder(w)
	for it.Next() {
		p := it.Point()
		if err := lb.Add(p.Lon, p.Lat, p.Timestamp); err != nil {
			return lb.Count(), err
		}
	}
	if err := it.Err(); err != nil {
		return lb.Count(), fmt.Errorf("scan point log: %w", err)
	}
	return lb.Count(), lb.Close()
}

// Last returns the last accepted point.
func (s *PointService) Last(ctx context.Context) (*domain.Point, error) {
	if p := s.log.Cursor(); p != nil {
		return p, nil
	}
	p, err := s.log.LastPoint(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("last point: %w", domain.ErrNotFound)
	}
	return p, nil
}

// Reset empties the log and rebuilds the artifact right away so the public
// track does not keep showing erased points.
func (s *PointService) Reset(ctx context.Context) error {
	if err := s.log.Reset(ctx); err != nil {
		return fmt.Errorf("reset point log: %w", err)
	}
	if s.rebuilder != nil {
		if err := s.rebuilder.ForceRebuild(ctx); err != nil {
			slog.Warn("rebuild after reset failed", "error", err)
		}
	}
	return nil
}

// Rebuild forces an artifact rebuild.
func (s *PointService) Rebuild(ctx context.Context) error {
	if s.rebuilder == nil {
		return nil
	}
	return s.rebuilder.ForceRebuild(ctx)
}
