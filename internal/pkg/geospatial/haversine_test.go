package geospatial

import (
	"math"
	"testing"
	"time"
)

func TestHaversine_KnownDistance(t *testing.T) {
	// Two points in central Bilbao, a couple of hundred meters apart.
	d := Haversine(43.2609, -2.9256, 43.2590, -2.9238)
	if d < 200 || d > 300 {
		t.Fatalf("expected ~250m, got %.1f", d)
	}

	if got := Haversine(10, 10, 10, 10); got != 0 {
		t.Errorf("expected 0 for identical points, got %f", got)
	}
}

func TestHaversine_OneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	want := EarthRadiusMeters * math.Pi / 180
	if math.Abs(d-want) > 0.001 {
		t.Errorf("expected %.3f, got %.3f", want, d)
	}
}

func TestSpeedKmh(t *testing.T) {
	if got := SpeedKmh(1000, time.Minute); math.Abs(got-60) > 1e-9 {
		t.Errorf("expected 60 km/h, got %f", got)
	}
	if got := SpeedKmh(0, 0); got != 0 {
		t.Errorf("expected 0 for no movement, got %f", got)
	}
	if got := SpeedKmh(10, 0); !math.IsInf(got, 1) {
		t.Errorf("expected +Inf for zero elapsed, got %f", got)
	}
}

func TestBoundingBox_ContainsCentre(t *testing.T) {
	minLat, minLon, maxLat, maxLon := BoundingBox(43.26, -2.93, 500)
	if !(minLat < 43.26 && maxLat > 43.26 && minLon < -2.93 && maxLon > -2.93) {
		t.Fatalf("bounding box does not contain centre: %f %f %f %f", minLat, minLon, maxLat, maxLon)
	}
}
