package usecases

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/jsonstream"
	"github.com/samirrijal/trailkeep/internal/pkg/metrics"
)

// DefaultRebuildInterval is the minimum gap between two scheduled rebuilds.
const DefaultRebuildInterval = 30 * time.Second

// MaterializerStats is a point-in-time view of the materializer.
type MaterializerStats struct {
	LastCompleted time.Time `json:"lastCompleted"`
	Builds        int       `json:"builds"`
	Points        int       `json:"points"`
	Pending       bool      `json:"pending"`
	LastError     string    `json:"lastError,omitempty"`
}

// Materializer rebuilds the public line artifact from the redacted point log.
// Scheduled rebuilds are coalesced into a single pending slot.
type Materializer struct {
	log         ports.PointLog
	store       ports.ArtifactStore
	minInterval time.Duration
	now         func() time.Time

	mu            sync.Mutex
	armed         bool
	timer         *time.Timer
	closed        bool
	lastCompleted time.Time
	builds        int
	points        int
	lastErr       error

	buildMu sync.Mutex
}

// NewMaterializer creates a Materializer. A negative minInterval is treated
// as zero.
func NewMaterializer(log ports.PointLog, store ports.ArtifactStore, minInterval time.Duration) *Materializer {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Materializer{log: log, store: store, minInterval: minInterval, now: time.Now}
}

// ScheduleRebuild arms a deferred rebuild unless one is already pending. The
// rebuild fires minInterval after the previous one completed, or immediately
// if that moment has passed.
func (m *Materializer) ScheduleRebuild() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed || m.closed {
		return
	}

	delay := m.lastCompleted.Add(m.minInterval).Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	m.armed = true
	m.timer = time.AfterFunc(delay, m.fire)
}

// fire runs on the timer. A build that finished while the timer was waiting
// pushes the rebuild out to minInterval after that build.
func (m *Materializer) fire() {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if wait := m.lastCompleted.Add(m.minInterval).Sub(m.now()); wait > 0 {
		m.timer = time.AfterFunc(wait, m.fire)
		m.mu.Unlock()
		return
	}
	m.armed = false
	m.timer = nil
	m.mu.Unlock()

	if err := m.buildLocked(context.Background(), "scheduled"); err != nil {
		slog.Error("scheduled rebuild failed", "error", err)
	}
}

// ForceRebuild rebuilds synchronously, regardless of any pending rebuild.
func (m *Materializer) ForceRebuild(ctx context.Context) error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	return m.buildLocked(ctx, "forced")
}

// buildLocked must be called with buildMu held.
func (m *Materializer) buildLocked(ctx context.Context, trigger string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "materializer.rebuild")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", trigger))

	start := time.Now()
	count, err := m.write(ctx)
	metrics.RebuildDuration.Observe(time.Since(start).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	if err != nil {
		metrics.Rebuilds.WithLabelValues(trigger, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("artifact rebuild failed, previous artifact kept", "trigger", trigger, "error", err)
		return err
	}

	m.lastCompleted = m.now()
	m.builds++
	m.points = count
	metrics.Rebuilds.WithLabelValues(trigger, "ok").Inc()
	metrics.ArtifactPoints.Set(float64(count))
	span.SetAttributes(attribute.Int("points", count))
	slog.Debug("artifact rebuilt", "trigger", trigger, "points", count, "duration", time.Since(start))
	return nil
}

func (m *Materializer) write(ctx context.Context) (int, error) {
	var count int
	err := m.store.Publish(ctx, func(w io.Writer) error {
		it, err := m.log.Scan(ctx, true)
		if err != nil {
			return fmt.Errorf("scan point log: %w", err)
		}
		defer it.Close()

		lb := jsonstream.NewLineBuilder(w)
		for it.Next() {
			p := it.Point()
			if err := lb.Add(p.Lon, p.Lat, p.Timestamp); err != nil {
				return err
			}
		}
		if err := it.Err(); err != nil {
			return fmt.Errorf("scan point log: %w", err)
		}
		count = lb.Count()
		return lb.Close()
	})
	return count, err
}

// Stats returns the current materializer state.
func (m *Materializer) Stats() MaterializerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MaterializerStats{
		LastCompleted: m.lastCompleted,
		Builds:        m.builds,
		Points:        m.points,
		Pending:       m.armed,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Close cancels a pending rebuild. Later schedules are ignored.
func (m *Materializer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.armed = false
}
