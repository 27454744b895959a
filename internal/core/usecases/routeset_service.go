package usecases

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/jsonstream"
)

// RoutesetService manages named snapshots of the point log.
type RoutesetService struct {
	repo ports.RoutesetRepository
	log  ports.PointLog
	now  func() time.Time
}

// NewRoutesetService creates a new RoutesetService.
func NewRoutesetService(repo ports.RoutesetRepository, log ports.PointLog) *RoutesetService {
	return &RoutesetService{repo: repo, log: log, now: time.Now}
}

// List returns all routesets, newest first.
func (s *RoutesetService) List(ctx context.Context) ([]domain.Routeset, error) {
	return s.repo.List(ctx)
}

// Get returns routeset metadata.
func (s *RoutesetService) Get(ctx context.Context, id string) (*domain.Routeset, error) {
	return s.repo.Get(ctx, id)
}

// Open returns the snapshot content, an array-form JSON document.
func (s *RoutesetService) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	return s.repo.Open(ctx, id)
}

// Delete removes a routeset.
func (s *RoutesetService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Create snapshots the current log under name. The snapshot is always array
// form so existing readers can load it.
func (s *RoutesetService) Create(ctx context.Context, name string, redact bool) (*domain.Routeset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: routeset name must not be empty", domain.ErrMalformedInput)
	}
	if len(name) > 200 {
		return nil, fmt.Errorf("%w: routeset name too long", domain.ErrMalformedInput)
	}

	rs := &domain.Routeset{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC().Format(domain.TimestampLayout),
		Redacted:  redact,
	}
	err := s.repo.Create(ctx, rs, func(w io.Writer) (int, error) {
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
			return aw.Count(), err
		}
		return aw.Count(), aw.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create routeset: %w", err)
	}
	return rs, nil
}
