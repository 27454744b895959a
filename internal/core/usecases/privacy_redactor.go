package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/geospatial"
	"github.com/samirrijal/trailkeep/internal/pkg/metrics"
)

// DefaultZoneTTL is how long a zone snapshot is trusted before reloading.
const DefaultZoneTTL = 60 * time.Second

// PrivacyRedactor answers point-in-zone queries from a cached snapshot of the
// privacy zone list. It implements ports.ZoneMatcher.
type PrivacyRedactor struct {
	repo ports.ZoneRepository
	ttl  time.Duration
	now  func() time.Time

	// group dedupes the blocking first load.
	group singleflight.Group

	mu         sync.Mutex
	zones      []domain.PrivacyZone
	boxes      []zoneBox
	loadedAt   time.Time
	loaded     bool
	refreshing bool
	gen        uint64
}

// zoneBox is a prefilter for one zone. When ok is false the zone is always
// checked with the exact distance.
type zoneBox struct {
	bounds domain.Bounds
	ok     bool
}

// maxBoxedRadius bounds the zones that get a prefilter; past it the flat
// box approximation drifts from the great circle.
const maxBoxedRadius = 100_000

func newZoneBox(z domain.PrivacyZone) zoneBox {
	if z.RadiusMeters > maxBoxedRadius {
		return zoneBox{}
	}
	// Padded so the haversine check stays authoritative at the edge.
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(z.Lat, z.Lon, z.RadiusMeters*1.01)
	if minLat < -90 || maxLat > 90 || minLon < -180 || maxLon > 180 {
		return zoneBox{}
	}
	return zoneBox{
		bounds: domain.Bounds{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon},
		ok:     true,
	}
}

// NewPrivacyRedactor creates a redactor over repo. A non-positive ttl uses
// DefaultZoneTTL.
func NewPrivacyRedactor(repo ports.ZoneRepository, ttl time.Duration) *PrivacyRedactor {
	if ttl <= 0 {
		ttl = DefaultZoneTTL
	}
	return &PrivacyRedactor{repo: repo, ttl: ttl, now: time.Now}
}

// Contains reports whether (lat, lon) lies inside any zone. The boundary
// counts as inside.
func (r *PrivacyRedactor) Contains(ctx context.Context, lat, lon float64) bool {
	zones, boxes := r.snapshot(ctx)
	for i, z := range zones {
		if boxes[i].ok && !boxes[i].bounds.Contains(lat, lon) {
			continue
		}
		if geospatial.Haversine(lat, lon, z.Lat, z.Lon) <= z.RadiusMeters {
			return true
		}
	}
	return false
}

// Zones returns the current snapshot, reloading it when the TTL has elapsed.
// The returned slice must not be modified.
func (r *PrivacyRedactor) Zones(ctx context.Context) []domain.PrivacyZone {
	zones, _ := r.snapshot(ctx)
	return zones
}

// snapshot returns the current zones. Without a snapshot every caller waits
// for the first load. Once one exists, the caller that finds it stale reloads
// while everyone else keeps reading the old one.
func (r *PrivacyRedactor) snapshot(ctx context.Context) ([]domain.PrivacyZone, []zoneBox) {
	r.mu.Lock()
	if r.loaded && (r.refreshing || r.now().Sub(r.loadedAt) < r.ttl) {
		defer r.mu.Unlock()
		return r.zones, r.boxes
	}
	if !r.loaded {
		r.mu.Unlock()
		_, _, _ = r.group.Do("zones", func() (any, error) {
			// Shared by every waiter, so one caller's cancellation must not fail it.
			r.reload(context.WithoutCancel(ctx))
			return nil, nil
		})
	} else {
		r.refreshing = true
		r.mu.Unlock()
		r.reload(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zones, r.boxes
}

// reload reads the zone list without holding mu.
func (r *PrivacyRedactor) reload(ctx context.Context) {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	zones, err := r.repo.List(ctx)
	var boxes []zoneBox
	if err == nil {
		boxes = make([]zoneBox, len(zones))
		for i, z := range zones {
			boxes[i] = newZoneBox(z)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshing = false
	if gen != r.gen {
		// Invalidated mid-read; the next lookup loads again.
		return
	}
	if err != nil {
		metrics.ZoneReloads.WithLabelValues("error").Inc()
		slog.Warn("privacy zones reload failed, keeping previous snapshot",
			"error", err, "zones", len(r.zones))
		// Retry after another TTL rather than on every lookup.
		r.loadedAt = r.now()
		r.loaded = true
		return
	}

	metrics.ZoneReloads.WithLabelValues("ok").Inc()
	r.zones = zones
	r.boxes = boxes
	r.loadedAt = r.now()
	r.loaded = true
}

// Invalidate forces the next lookup to reload the zone list.
func (r *PrivacyRedactor) Invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.gen++
	r.mu.Unlock()
}
