package usecases_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
)

// --- In-memory PointLog ---

type memLog struct {
	mu       sync.Mutex
	points   []domain.Point
	matcher  ports.ZoneMatcher
	appendFn func(p domain.Point) error
	resets   int
}

func (m *memLog) Append(ctx context.Context, p domain.Point) error {
	if m.appendFn != nil {
		if err := m.appendFn(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, p)
	return nil
}

func (m *memLog) Scan(ctx context.Context, redact bool) (ports.PointIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Point
	for _, p := range m.points {
		if redact && m.matcher != nil && m.matcher.Contains(ctx, p.Lat, p.Lon) {
			continue
		}
		out = append(out, p)
	}
	return &sliceIter{points: out, idx: -1}, nil
}

func (m *memLog) LastPoint(ctx context.Context) (*domain.Point, error) {
	return m.Cursor(), nil
}

func (m *memLog) Cursor() *domain.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.points) == 0 {
		return nil
	}
	p := m.points[len(m.points)-1]
	return &p
}

func (m *memLog) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = nil
	m.resets++
	return nil
}

func (m *memLog) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

type sliceIter struct {
	points []domain.Point
	idx    int
}

func (s *sliceIter) Next() bool          { s.idx++; return s.idx < len(s.points) }
func (s *sliceIter) Point() domain.Point { return s.points[s.idx] }
func (s *sliceIter) Err() error          { return nil }
func (s *sliceIter) Close() error        { return nil }

// --- ZoneMatcher ---

type zoneMatcherFunc func(lat, lon float64) bool

func (f zoneMatcherFunc) Contains(ctx context.Context, lat, lon float64) bool { return f(lat, lon) }

// --- EventPublisher ---

type mockPublisher struct {
	mu              sync.Mutex
	published       []domain.Point
	publishPointErr error
}

func (m *mockPublisher) PublishPoint(ctx context.Context, p *domain.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, *p)
	return m.publishPointErr
}

func (m *mockPublisher) PublishSamples(ctx context.Context, samples []domain.Sample) error {
	return nil
}

// --- RebuildScheduler ---

type countingScheduler struct {
	mu sync.Mutex
	n  int
}

func (c *countingScheduler) ScheduleRebuild() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingScheduler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// --- ArtifactStore ---

type memArtifact struct {
	mu        sync.Mutex
	data      []byte
	publishes []time.Time
	completed []time.Time
	failWith  error
	delay     time.Duration
}

func (m *memArtifact) Publish(ctx context.Context, write func(w io.Writer) error) error {
	m.mu.Lock()
	m.publishes = append(m.publishes, time.Now())
	m.mu.Unlock()

	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.data = buf.Bytes()
	m.completed = append(m.completed, time.Now())
	return nil
}

func (m *memArtifact) content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.data)
}

func (m *memArtifact) publishTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.publishes...)
}

func (m *memArtifact) completionTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.completed...)
}

// --- CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- WeatherFetcher ---

type mockFetcher struct {
	mu        sync.Mutex
	calls     int
	currentFn func(ctx context.Context, lat, lon float64) (*domain.Weather, error)
}

func (m *mockFetcher) Current(ctx context.Context, lat, lon float64) (*domain.Weather, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.currentFn != nil {
		return m.currentFn(ctx, lat, lon)
	}
	return &domain.Weather{Lat: lat, Lon: lon, TemperatureC: 18.5}, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- RoutesetRepository ---

type mockRoutesetRepo struct {
	created  []domain.Routeset
	snapshot bytes.Buffer
}

func (m *mockRoutesetRepo) List(ctx context.Context) ([]domain.Routeset, error) {
	return m.created, nil
}

func (m *mockRoutesetRepo) Get(ctx context.Context, id string) (*domain.Routeset, error) {
	for _, rs := range m.created {
		if rs.ID == id {
			return &rs, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockRoutesetRepo) Create(ctx context.Context, rs *domain.Routeset, write func(w io.Writer) (int, error)) error {
	n, err := write(&m.snapshot)
	if err != nil {
		return err
	}
	rs.PointCount = n
	m.created = append(m.created, *rs)
	return nil
}

func (m *mockRoutesetRepo) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.snapshot.Bytes())), nil
}

func (m *mockRoutesetRepo) Delete(ctx context.Context, id string) error { return nil }

// --- helpers ---

func ts(base time.Time, offset time.Duration) string {
	return base.Add(offset).UTC().Format(domain.TimestampLayout)
}
