package usecases

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/geospatial"
	"github.com/samirrijal/trailkeep/internal/pkg/metrics"
)

const tracerName = "trailkeep/usecases"

// Gate holds the thresholds a sample must clear against the last accepted
// point. Boundary values pass.
type Gate struct {
	MinDistanceMeters float64
	MinInterval       time.Duration
	MaxSpeedKmh       float64
}

// DefaultGate is 15 m, 4 s and 160 km/h.
var DefaultGate = Gate{
	MinDistanceMeters: 15,
	MinInterval:       4000 * time.Millisecond,
	MaxSpeedKmh:       160,
}

// Rejection reasons reported on points_rejected_total.
const (
	reasonInvalid  = "invalid"
	reasonDistance = "distance"
	reasonInterval = "interval"
	reasonSpeed    = "speed"
	reasonAppend   = "append_failed"
)

// check returns the rejection reason for next, or "" when it passes. Without
// a previous point nothing is rejected. When either timestamp is unparsable
// only the distance rule applies.
func (g Gate) check(prev *domain.Point, next domain.Point) string {
	if prev == nil {
		return ""
	}
	dist := geospatial.Haversine(prev.Lat, prev.Lon, next.Lat, next.Lon)
	if dist < g.MinDistanceMeters {
		return reasonDistance
	}

	t0, ok0 := prev.Time()
	t1, ok1 := next.Time()
	if !ok0 || !ok1 {
		return ""
	}
	elapsed := t1.Sub(t0)
	if elapsed < g.MinInterval {
		return reasonInterval
	}
	if geospatial.SpeedKmh(dist, elapsed) > g.MaxSpeedKmh {
		return reasonSpeed
	}
	return ""
}

// IngestService decides which incoming samples become durable points.
type IngestService struct {
	log       ports.PointLog
	zones     ports.ZoneMatcher
	publisher ports.EventPublisher
	rebuilds  ports.RebuildScheduler
	gate      Gate
	now       func() time.Time

	// appendMu makes gate-then-append atomic across concurrent batches.
	appendMu sync.Mutex
}

// NewIngestService creates an IngestService. publisher and rebuilds may be nil.
func NewIngestService(
	log ports.PointLog,
	zones ports.ZoneMatcher,
	publisher ports.EventPublisher,
	rebuilds ports.RebuildScheduler,
	gate Gate,
) *IngestService {
	return &IngestService{
		log:       log,
		zones:     zones,
		publisher: publisher,
		rebuilds:  rebuilds,
		gate:      gate,
		now:       time.Now,
	}
}

// Ingest processes samples in order. Each sample is validated, checked
// against the privacy zones, gated against the last accepted point, then
// normalized and appended. A failure on one sample never aborts the batch;
// the only error returned is the context's.
func (s *IngestService) Ingest(ctx context.Context, samples []domain.Sample) (domain.IngestResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.batch",
		trace.WithAttributes(attribute.Int("samples", len(samples))))
	defer span.End()

	var res domain.IngestResult
	metrics.SamplesReceived.Add(float64(len(samples)))

	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context cancelled")
			return res, err
		}

		lat, lon, ok := sample.Coordinates()
		if !ok {
			metrics.PointsRejected.WithLabelValues(reasonInvalid).Inc()
			continue
		}

		if s.zones != nil && s.zones.Contains(ctx, lat, lon) {
			metrics.PointsRedacted.Inc()
			res.Redacted++
			continue
		}

		p := sample.Normalize(s.now())
		reason, err := s.admit(ctx, p)
		if err != nil {
			metrics.PointsRejected.WithLabelValues(reasonAppend).Inc()
			slog.Error("append point failed", "index", i, "error", err)
			span.RecordError(err)
			continue
		}
		if reason != "" {
			metrics.PointsRejected.WithLabelValues(reason).Inc()
			continue
		}
		metrics.PointsAdded.Inc()
		res.Added++

		if s.publisher != nil {
			if err := s.publisher.PublishPoint(ctx, &p); err != nil {
				slog.Warn("publish point failed", "error", err)
			}
		}
		if s.rebuilds != nil {
			s.rebuilds.ScheduleRebuild()
		}
	}

	span.SetAttributes(attribute.Int("added", res.Added), attribute.Int("redacted", res.Redacted))
	return res, nil
}

// admit gates p against the cursor and appends it under appendMu. It returns
// the rejection reason, or the append error.
func (s *IngestService) admit(ctx context.Context, p domain.Point) (string, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	if reason := s.gate.check(s.log.Cursor(), p); reason != "" {
		return reason, nil
	}
	return "", s.log.Append(ctx, p)
}
