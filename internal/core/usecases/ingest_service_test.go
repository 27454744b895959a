package usecases_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/usecases"
	"github.com/samirrijal/trailkeep/internal/pkg/geospatial"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sample(lat, lon float64, at time.Duration) domain.Sample {
	return domain.Sample{Lat: lat, Lon: lon, Timestamp: ts(t0, at)}
}

func logWithCursor(lat, lon float64) *memLog {
	return &memLog{points: []domain.Point{{Lat: lat, Lon: lon, Timestamp: ts(t0, 0)}}}
}

func TestIngest_FirstPointAlwaysPasses(t *testing.T) {
	log := &memLog{}
	svc := usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)

	res, err := svc.Ingest(context.Background(), []domain.Sample{sample(43.26, -2.93, 0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Added != 1 || res.Redacted != 0 {
		t.Errorf("expected 1 added, got %+v", res)
	}
}

func TestIngest_DefaultGate(t *testing.T) {
	tests := []struct {
		name   string
		sample domain.Sample
		added  int
	}{
		// 0.0001 degrees of latitude is about 11 m.
		{"too close", sample(43.0001, -2.0, 60*time.Second), 0},
		{"too soon", sample(43.001, -2.0, 2*time.Second), 0},
		{"ok", sample(43.001, -2.0, 10*time.Second), 1},
		{"too fast", sample(43.01, -2.0, 5*time.Second), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logWithCursor(43.0, -2.0)
			svc := usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)
			res, _ := svc.Ingest(context.Background(), []domain.Sample{tt.sample})
			if res.Added != tt.added {
				t.Errorf("expected %d added, got %d", tt.added, res.Added)
			}
			if res.Redacted != 0 {
				t.Errorf("gating must not count as redacted")
			}
		})
	}
}

func TestIngest_GateBoundariesAreInclusive(t *testing.T) {
	const lat0, lon0 = 43.0, -2.0
	const lat1, lon1 = 43.001, -2.0
	dist := geospatial.Haversine(lat0, lon0, lat1, lon1)
	elapsed := 10 * time.Second
	speed := geospatial.SpeedKmh(dist, elapsed)

	tests := []struct {
		name    string
		gate    usecases.Gate
		elapsed time.Duration
		added   int
	}{
		{"distance exactly at minimum", usecases.Gate{MinDistanceMeters: dist, MinInterval: time.Second, MaxSpeedKmh: 1000}, elapsed, 1},
		{"distance just below minimum", usecases.Gate{MinDistanceMeters: dist + 1e-6, MinInterval: time.Second, MaxSpeedKmh: 1000}, elapsed, 0},
		{"interval exactly at minimum", usecases.Gate{MinDistanceMeters: 1, MinInterval: 4000 * time.Millisecond, MaxSpeedKmh: 1000}, 4000 * time.Millisecond, 1},
		{"interval just below minimum", usecases.Gate{MinDistanceMeters: 1, MinInterval: 4000 * time.Millisecond, MaxSpeedKmh: 1000}, 3999 * time.Millisecond, 0},
		{"speed exactly at maximum", usecases.Gate{MinDistanceMeters: 1, MinInterval: time.Second, MaxSpeedKmh: speed}, elapsed, 1},
		{"speed just above maximum", usecases.Gate{MinDistanceMeters: 1, MinInterval: time.Second, MaxSpeedKmh: speed - 1e-9}, elapsed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logWithCursor(lat0, lon0)
			svc := usecases.NewIngestService(log, nil, nil, nil, tt.gate)
			res, _ := svc.Ingest(context.Background(), []domain.Sample{sample(lat1, lon1, tt.elapsed)})
			if res.Added != tt.added {
				t.Errorf("expected %d added, got %d", tt.added, res.Added)
			}
		})
	}
}

func TestIngest_UnparsableCursorTimestampChecksDistanceOnly(t *testing.T) {
	log := &memLog{points: []domain.Point{{Lat: 43.0, Lon: -2.0, Timestamp: "yesterday"}}}
	svc := usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)

	// Far enough, and no time rule can apply.
	res, _ := svc.Ingest(context.Background(), []domain.Sample{sample(43.001, -2.0, 0)})
	if res.Added != 1 {
		t.Fatalf("expected far sample accepted, got %+v", res)
	}

	log = &memLog{points: []domain.Point{{Lat: 43.0, Lon: -2.0, Timestamp: "yesterday"}}}
	svc = usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)
	res, _ = svc.Ingest(context.Background(), []domain.Sample{sample(43.00001, -2.0, time.Hour)})
	if res.Added != 0 {
		t.Errorf("expected near sample rejected, got %+v", res)
	}
}

func TestIngest_Redaction(t *testing.T) {
	log := &memLog{}
	home := zoneMatcherFunc(func(lat, lon float64) bool { return lat > 44 })
	sched := &countingScheduler{}
	svc := usecases.NewIngestService(log, home, nil, sched, usecases.DefaultGate)

	res, err := svc.Ingest(context.Background(), []domain.Sample{
		sample(44.5, -2.0, 0),
		sample(43.0, -2.0, 10*time.Second),
		sample(44.6, -2.0, 20*time.Second),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Added != 1 || res.Redacted != 2 {
		t.Errorf("expected 1 added and 2 redacted, got %+v", res)
	}
	for _, p := range log.points {
		if p.Lat > 44 {
			t.Errorf("redacted point %v reached the log", p)
		}
	}
	if sched.count() != 1 {
		t.Errorf("expected one schedule per accepted point, got %d", sched.count())
	}
}

func TestIngest_InvalidSamplesAreDropped(t *testing.T) {
	log := &memLog{}
	svc := usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)

	res, _ := svc.Ingest(context.Background(), []domain.Sample{
		{Lat: "abc", Lon: -2.0},
		{Lat: 91.0, Lon: -2.0},
		{Lat: 43.0},
		{Lat: nil, Lon: nil},
	})
	if res.Added != 0 || res.Redacted != 0 {
		t.Errorf("expected nothing counted, got %+v", res)
	}
	if log.len() != 0 {
		t.Errorf("expected empty log, got %d points", log.len())
	}
}

func TestIngest_NormalizesLooseSamples(t *testing.T) {
	log := &memLog{}
	svc := usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)

	_, _ = svc.Ingest(context.Background(), []domain.Sample{
		{Lat: "43.25", Lon: " -2.9 ", Speed: 10.0, Alt: "not a number"},
	})
	if log.len() != 1 {
		t.Fatalf("expected 1 point, got %d", log.len())
	}
	p := log.points[0]
	if p.Lat != 43.25 || p.Lon != -2.9 {
		t.Errorf("unexpected coordinates %v,%v", p.Lat, p.Lon)
	}
	if p.SpeedKmh == nil || *p.SpeedKmh != 36 {
		t.Errorf("expected speed 36 km/h from 10 m/s, got %v", p.SpeedKmh)
	}
	if p.Alt != nil {
		t.Errorf("expected non-numeric alt to be omitted")
	}
	if _, ok := p.Time(); !ok {
		t.Errorf("expected a default timestamp, got %q", p.Timestamp)
	}
}

func TestIngest_AppendFailureDoesNotAbortBatch(t *testing.T) {
	calls := 0
	log := &memLog{appendFn: func(p domain.Point) error {
		calls++
		if calls == 1 {
			return domain.ErrIOFailure
		}
		return nil
	}}
	svc := usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)

	res, err := svc.Ingest(context.Background(), []domain.Sample{
		sample(43.0, -2.0, 0),
		sample(43.1, -2.0, time.Hour),
	})
	if err != nil {
		t.Fatalf("append failures must not surface: %v", err)
	}
	if res.Added != 1 {
		t.Errorf("expected 1 added, got %+v", res)
	}
}

func TestIngest_PublishFailureIsIgnored(t *testing.T) {
	log := &memLog{}
	pub := &mockPublisher{publishPointErr: errors.New("nats down")}
	svc := usecases.NewIngestService(log, nil, pub, nil, usecases.DefaultGate)

	res, err := svc.Ingest(context.Background(), []domain.Sample{
		sample(43.0, -2.0, 0),
		sample(43.001, -2.0, 10*time.Second),
	})
	if err != nil || res.Added != 2 {
		t.Fatalf("expected 2 added, got %+v %v", res, err)
	}
	if len(pub.published) != 2 {
		t.Errorf("expected 2 publish attempts, got %d", len(pub.published))
	}
}

func TestIngest_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := usecases.NewIngestService(&memLog{}, nil, nil, nil, usecases.DefaultGate)
	_, err := svc.Ingest(ctx, []domain.Sample{sample(43.0, -2.0, 0)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestIngest_ConcurrentBatchesShareOneCursor(t *testing.T) {
	for round := 0; round < 50; round++ {
		log := &memLog{appendFn: func(domain.Point) error {
			time.Sleep(100 * time.Microsecond)
			return nil
		}}
		svc := usecases.NewIngestService(log, nil, nil, nil, usecases.DefaultGate)

		var wg sync.WaitGroup
		for g := 0; g < 16; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Ingest(context.Background(), []domain.Sample{sample(43.0, -2.0, 0)}); err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()

		if n := log.len(); n != 1 {
			t.Fatalf("round %d: expected 1 point, got %d", round, n)
		}
	}
}
