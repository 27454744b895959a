package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
)

func point(i int) domain.Point {
	return domain.Point{
		Lat:       43.26 + float64(i)*0.001,
		Lon:       -2.93,
		Timestamp: fmt.Sprintf("2024-05-01T10:00:%02d.000Z", i%60),
	}
}

func openLog(t *testing.T, path string, opts ...Option) *PointLog {
	t.Helper()
	l, err := Open(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func collect(t *testing.T, it ports.PointIterator) []domain.Point {
	t.Helper()
	defer it.Close()
	var out []domain.Point
	for it.Next() {
		out = append(out, it.Point())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func scanAll(t *testing.T, l *PointLog, redact bool) []domain.Point {
	t.Helper()
	it, err := l.Scan(context.Background(), redact)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return collect(t, it)
}

func TestOpen_CreatesEmptyLineLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "points.jsonl")
	l := openLog(t, path)

	if l.Format() != FormatLines {
		t.Errorf("expected line form, got %s", l.Format())
	}
	if l.Cursor() != nil {
		t.Errorf("expected nil cursor on empty log")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	if pts := scanAll(t, l, false); len(pts) != 0 {
		t.Errorf("expected no points, got %d", len(pts))
	}
}

func TestOpen_DetectsArrayForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.json")
	os.WriteFile(path, []byte("\n  [{\"lat\":1,\"lon\":2,\"timestamp\":\"2024-01-01T00:00:00Z\"}]"), 0o644)

	l := openLog(t, path)
	if l.Format() != FormatArray {
		t.Fatalf("expected array form, got %s", l.Format())
	}
	c := l.Cursor()
	if c == nil || c.Lat != 1 || c.Lon != 2 {
		t.Errorf("expected cursor seeded from last element, got %+v", c)
	}
}

func TestAppend_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path)
	for i := 0; i < 3; i++ {
		if err := l.Append(context.Background(), point(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	before, _ := os.ReadFile(path)
	l.Close()

	// Simulated restart.
	l2 := openLog(t, path)
	if err := l2.Append(context.Background(), point(3)); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(path)

	if !strings.HasPrefix(string(after), string(before)) {
		t.Fatalf("existing bytes were rewritten")
	}
	lines := strings.Split(strings.TrimSuffix(string(after), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), after)
	}
	l2.Close()

	l3 := openLog(t, path)
	c := l3.Cursor()
	if c == nil || c.Lat != point(3).Lat || c.Timestamp != point(3).Timestamp {
		t.Errorf("expected cursor to equal last appended point, got %+v", c)
	}
}

func TestOpen_RepairsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	content := `{"lat":1,"lon":1,"timestamp":"2024-01-01T00:00:00Z"}` + "\n" +
		`{"lat":2,"lon":2,"timestamp":"2024-01-01T00:00:10Z"}` + "\n" +
		`{"lat":3,"lon":3,"times`
	os.WriteFile(path, []byte(content), 0o644)

	l := openLog(t, path)
	c := l.Cursor()
	if c == nil || c.Lat != 2 {
		t.Fatalf("expected cursor at the last complete line, got %+v", c)
	}
	if err := l.Append(context.Background(), domain.Point{Lat: 4, Lon: 4, Timestamp: "2024-01-01T00:00:20Z"}); err != nil {
		t.Fatal(err)
	}

	pts := scanAll(t, l, false)
	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	if pts[2].Lat != 4 {
		t.Errorf("expected the new point to follow the repaired tail, got %+v", pts[2])
	}
}

func TestOpen_TerminatesCompleteFinalLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	os.WriteFile(path, []byte(`{"lat":1,"lon":1,"timestamp":"2024-01-01T00:00:00Z"}`), 0o644)

	l := openLog(t, path)
	if err := l.Append(context.Background(), point(1)); err != nil {
		t.Fatal(err)
	}
	if pts := scanAll(t, l, false); len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
}

func TestScan_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	content := strings.Join([]string{
		`{"lat":1,"lon":1,"timestamp":"a"}`,
		``,
		`not json`,
		`{"lat":"2","lon":2}`,
		`{"lon":3}`,
		`   `,
		`{"lat":4,"lon":4,"speedKmh":12.6}`,
	}, "\n") + "\n"
	os.WriteFile(path, []byte(content), 0o644)

	l := openLog(t, path)
	it, err := l.Scan(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	sc := it.(*Scanner)
	pts := collect(t, sc)
	if len(pts) != 2 {
		t.Fatalf("expected 2 valid points, got %d", len(pts))
	}
	if pts[1].SpeedKmh == nil || *pts[1].SpeedKmh != 13 {
		t.Errorf("expected fractional speed rounded to 13, got %v", pts[1].SpeedKmh)
	}
	if sc.Skipped() != 3 {
		t.Errorf("expected 3 skipped records, got %d", sc.Skipped())
	}
}

func TestScan_ArrayFormSkipsInvalidElement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.json")
	content := `[{"lat":1,"lon":1,"timestamp":"2024-01-01T00:00:00Z"},` +
		`{"lat":2,"lon":},` +
		`{"lat":3,"lon":3,"timestamp":"2024-01-01T00:01:00Z"}]`
	os.WriteFile(path, []byte(content), 0o644)

	l := openLog(t, path)
	it, err := l.Scan(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	sc := it.(*Scanner)
	pts := collect(t, sc)
	if len(pts) != 2 || pts[1].Lat != 3 {
		t.Fatalf("expected the points around the bad element, got %+v", pts)
	}
	if sc.Skipped() != 1 {
		t.Errorf("expected 1 skipped record, got %d", sc.Skipped())
	}

	last, err := l.LastPoint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.Lat != 3 {
		t.Errorf("expected last point past the bad element, got %+v", last)
	}
}

type zoneMatcherFunc func(lat, lon float64) bool

func (f zoneMatcherFunc) Contains(_ context.Context, lat, lon float64) bool { return f(lat, lon) }

func TestScan_Redacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path, WithZoneMatcher(zoneMatcherFunc(func(lat, _ float64) bool {
		return lat > 43.2615 && lat < 43.2635
	})))
	for i := 0; i < 5; i++ {
		l.Append(context.Background(), point(i))
	}

	if got := scanAll(t, l, false); len(got) != 5 {
		t.Errorf("expected 5 raw points, got %d", len(got))
	}
	redacted := scanAll(t, l, true)
	if len(redacted) != 3 {
		t.Fatalf("expected 3 redacted points, got %d", len(redacted))
	}
	for _, p := range redacted {
		if p.Lat > 43.2615 && p.Lat < 43.2635 {
			t.Errorf("point inside zone leaked: %+v", p)
		}
	}
}

func TestScan_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path)
	os.Remove(path)

	if pts := scanAll(t, l, false); len(pts) != 0 {
		t.Errorf("expected empty scan, got %d", len(pts))
	}
}

func TestScan_StopsOnCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path)
	l.Append(context.Background(), point(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it, err := l.Scan(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if it.Next() {
		t.Fatal("expected no points after cancellation")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", it.Err())
	}
}

func TestLastPoint_ReadsOnlyTailWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path, WithTailWindow(128))
	for i := 0; i < 50; i++ {
		l.Append(context.Background(), point(i))
	}
	// A malformed final record is passed over.
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString("garbage\n")
	f.Close()

	last, err := l.LastPoint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.Timestamp != point(49).Timestamp {
		t.Errorf("expected last valid point, got %+v", last)
	}
}

func TestLastPoint_WindowWithoutCompleteLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path, WithTailWindow(10))
	l.Append(context.Background(), point(0))

	last, err := l.LastPoint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("expected no point when the window holds no complete line, got %+v", last)
	}
}

func TestReset_LineForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path)
	for i := 0; i < 3; i++ {
		l.Append(context.Background(), point(i))
	}
	if err := l.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.Cursor() != nil {
		t.Error("expected cursor cleared")
	}
	info, _ := os.Stat(path)
	if info.Size() != 0 {
		t.Errorf("expected empty file, got %d bytes", info.Size())
	}
	l.Append(context.Background(), point(7))
	if pts := scanAll(t, l, false); len(pts) != 1 {
		t.Errorf("expected 1 point after reset, got %d", len(pts))
	}
}

func TestArrayForm_AppendScanReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.json")
	os.WriteFile(path, []byte("[\n  {\"lat\":1,\"lon\":1,\"timestamp\":\"2024-01-01T00:00:00Z\"}\n]\n\n"), 0o644)

	l := openLog(t, path)
	if err := l.Append(context.Background(), point(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(context.Background(), point(2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	pts := scanAll(t, l, false)
	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	if pts[2].Lat != point(2).Lat {
		t.Errorf("unexpected last point %+v", pts[2])
	}

	if err := l.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected empty array, got %q", data)
	}
	if l.Format() != FormatArray {
		t.Errorf("format must not change after reset")
	}
	if err := l.Append(context.Background(), point(5)); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if !strings.HasPrefix(string(data), "[{") || strings.Contains(string(data), "[,") {
		t.Errorf("unexpected array after append to empty array: %q", data)
	}
}

func TestAppend_RejectsNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.jsonl")
	l := openLog(t, path)
	err := l.Append(context.Background(), domain.Point{Lat: nanValue(), Lon: 1})
	if !errors.Is(err, domain.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
