package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/usecases"
)

const emptyCollection = `{"type":"FeatureCollection","features":[]}`

type lineDoc struct {
	Type     string `json:"type"`
	Features []struct {
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			PointCount int    `json:"pointCount"`
			Start      string `json:"start"`
			End        string `json:"end"`
		} `json:"properties"`
	} `json:"features"`
}

func pointsN(n int) []domain.Point {
	pts := make([]domain.Point, n)
	for i := range pts {
		pts[i] = domain.Point{Lat: 43.0 + float64(i)*0.01, Lon: -2.0, Timestamp: ts(t0, time.Duration(i)*time.Minute)}
	}
	return pts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMaterializer_FewerThanTwoPointsIsEmpty(t *testing.T) {
	for _, n := range []int{0, 1} {
		art := &memArtifact{}
		m := usecases.NewMaterializer(&memLog{points: pointsN(n)}, art, time.Minute)
		if err := m.ForceRebuild(context.Background()); err != nil {
			t.Fatalf("rebuild with %d points: %v", n, err)
		}
		if art.content() != emptyCollection {
			t.Errorf("%d points: expected empty collection, got %s", n, art.content())
		}
	}
}

func TestMaterializer_LineSkipsRedactedPoints(t *testing.T) {
	log := &memLog{
		points: pointsN(5),
		// Hides the point at index 2.
		matcher: zoneMatcherFunc(func(lat, lon float64) bool { return lat > 43.015 && lat < 43.025 }),
	}
	art := &memArtifact{}
	m := usecases.NewMaterializer(log, art, time.Minute)
	if err := m.ForceRebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	var doc lineDoc
	if err := json.Unmarshal([]byte(art.content()), &doc); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if len(doc.Features) != 1 {
		t.Fatalf("expected one feature, got %d", len(doc.Features))
	}
	f := doc.Features[0]
	if f.Geometry.Type != "LineString" {
		t.Errorf("expected LineString, got %s", f.Geometry.Type)
	}
	if len(f.Geometry.Coordinates) != 4 || f.Properties.PointCount != 4 {
		t.Errorf("expected 4 vertices, got %d (pointCount %d)", len(f.Geometry.Coordinates), f.Properties.PointCount)
	}
	if f.Geometry.Coordinates[0] != [2]float64{-2.0, 43.0} {
		t.Errorf("expected [lon, lat] order, got %v", f.Geometry.Coordinates[0])
	}
	if st := m.Stats(); st.Builds != 1 || st.Points != 4 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestMaterializer_FailedPublishKeepsPrevious(t *testing.T) {
	log := &memLog{points: pointsN(3)}
	art := &memArtifact{}
	m := usecases.NewMaterializer(log, art, time.Minute)
	if err := m.ForceRebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := art.content()

	art.failWith = errors.New("disk full")
	log.points = pointsN(6)
	if err := m.ForceRebuild(context.Background()); err == nil {
		t.Fatal("expected publish error")
	}
	if art.content() != before {
		t.Error("previous artifact was replaced")
	}
	st := m.Stats()
	if st.LastError == "" || st.Builds != 1 {
		t.Errorf("unexpected stats after failure %+v", st)
	}
}

func TestMaterializer_DebounceCoalescesBurst(t *testing.T) {
	const interval = 80 * time.Millisecond
	art := &memArtifact{}
	m := usecases.NewMaterializer(&memLog{points: pointsN(3)}, art, interval)
	defer m.Close()

	if err := m.ForceRebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := m.Stats().LastCompleted

	for i := 0; i < 50; i++ {
		m.ScheduleRebuild()
	}
	if !m.Stats().Pending {
		t.Error("expected a pending rebuild")
	}

	waitFor(t, func() bool { return m.Stats().Builds == 2 })
	time.Sleep(2 * interval)
	if b := m.Stats().Builds; b != 2 {
		t.Fatalf("expected exactly one scheduled rebuild, got %d", b-1)
	}

	times := art.publishTimes()
	if gap := times[1].Sub(first); gap < interval {
		t.Errorf("scheduled rebuild ran %v after the previous one, want at least %v", gap, interval)
	}
}

func TestMaterializer_ScheduleDuringSlowBuildWaitsInterval(t *testing.T) {
	const interval = 300 * time.Millisecond
	art := &memArtifact{delay: 100 * time.Millisecond}
	m := usecases.NewMaterializer(&memLog{points: pointsN(3)}, art, interval)
	defer m.Close()

	m.ScheduleRebuild()
	waitFor(t, func() bool { return len(art.publishTimes()) == 1 })
	time.Sleep(30 * time.Millisecond)
	m.ScheduleRebuild()

	waitFor(t, func() bool { return m.Stats().Builds == 2 })
	done := art.completionTimes()
	starts := art.publishTimes()
	if gap := starts[1].Sub(done[0]); gap < interval {
		t.Errorf("second rebuild started %v after the first completed, want at least %v", gap, interval)
	}
}

func TestMaterializer_ForcedBuildDefersPendingSchedule(t *testing.T) {
	const interval = 150 * time.Millisecond
	art := &memArtifact{}
	m := usecases.NewMaterializer(&memLog{points: pointsN(3)}, art, interval)
	defer m.Close()

	if err := m.ForceRebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.ScheduleRebuild()
	time.Sleep(interval / 2)
	if err := m.ForceRebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	forced := m.Stats().LastCompleted

	waitFor(t, func() bool { return m.Stats().Builds == 3 })
	starts := art.publishTimes()
	if gap := starts[2].Sub(forced); gap < interval {
		t.Errorf("scheduled rebuild ran %v after the forced one, want at least %v", gap, interval)
	}
}

func TestMaterializer_RearmsAfterFiring(t *testing.T) {
	m := usecases.NewMaterializer(&memLog{points: pointsN(2)}, &memArtifact{}, 0)
	defer m.Close()

	m.ScheduleRebuild()
	waitFor(t, func() bool { return m.Stats().Builds == 1 })
	m.ScheduleRebuild()
	waitFor(t, func() bool { return m.Stats().Builds == 2 })
}

func TestMaterializer_CloseCancelsPending(t *testing.T) {
	m := usecases.NewMaterializer(&memLog{points: pointsN(2)}, &memArtifact{}, time.Hour)
	if err := m.ForceRebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	m.ScheduleRebuild()
	m.Close()
	m.ScheduleRebuild()

	st := m.Stats()
	if st.Pending {
		t.Error("expected no pending rebuild after Close")
	}
	if st.Builds != 1 {
		t.Errorf("expected 1 build, got %d", st.Builds)
	}
}
