package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the RFC 3339 layout used for timestamps the service generates.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Point is an accepted geolocation sample as it is persisted in the point log.
// Optional fields are pointers so that "absent" and "zero" stay distinct.
type Point struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Timestamp string   `json:"timestamp"`
	Alt       *float64 `json:"alt,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	SpeedKmh  *int     `json:"speedKmh,omitempty"`
}

// Valid reports whether the point has finite coordinates.
func (p Point) Valid() bool {
	return isFinite(p.Lat) && isFinite(p.Lon)
}

// Time parses the point timestamp. ok is false when it is not RFC 3339.
func (p Point) Time() (t time.Time, ok bool) {
	return ParseTimestamp(p.Timestamp)
}

// Sample is an incoming, loosely typed location reading. Devices send numbers
// either as JSON numbers or as numeric strings, so every field is decoded as any
// and coerced during normalization.
type Sample struct {
	Lat       any `json:"lat"`
	Lon       any `json:"lon"`
	Timestamp any `json:"timestamp,omitempty"`
	Alt       any `json:"alt,omitempty"`
	Heading   any `json:"heading,omitempty"`
	SpeedKmh  any `json:"speedKmh,omitempty"`
	Speed     any `json:"speed,omitempty"` // m/s
}

// Coordinates coerces lat/lon. ok is false when either is missing, non-numeric,
// non-finite, or out of the WGS 84 range.
func (s Sample) Coordinates() (lat, lon float64, ok bool) {
	lat, okLat := CoerceFloat(s.Lat)
	lon, okLon := CoerceFloat(s.Lon)
	if !okLat || !okLon {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// Normalize turns a sample into a Point. now supplies the default timestamp.
// The caller must have checked Coordinates first.
func (s Sample) Normalize(now time.Time) Point {
	lat, lon, _ := s.Coordinates()
	p := Point{Lat: lat, Lon: lon, Timestamp: s.timestamp(now)}

	if v, ok := CoerceFloat(s.Alt); ok {
		p.Alt = &v
	}
	if v, ok := CoerceFloat(s.Heading); ok {
		p.Heading = &v
	}
	if v, ok := CoerceFloat(s.SpeedKmh); ok {
		kmh := int(math.Round(v))
		p.SpeedKmh = &kmh
	} else if v, ok := CoerceFloat(s.Speed); ok && v >= 0 {
		kmh := int(math.Round(v * 3.6))
		p.SpeedKmh = &kmh
	}
	return p
}

func (s Sample) timestamp(now time.Time) string {
	switch v := s.Timestamp.(type) {
	case string:
		if t, ok := ParseTimestamp(v); ok {
			return t.UTC().Format(TimestampLayout)
		}
	case float64:
		if isFinite(v) && v > 0 {
			return time.UnixMilli(int64(v)).UTC().Format(TimestampLayout)
		}
	}
	return now.UTC().Format(TimestampLayout)
}

// IngestResult reports what happened to a batch of samples.
type IngestResult struct {
	Added    int `json:"added"`
	Redacted int `json:"redacted"`
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CoerceFloat converts a decoded JSON value into a finite float64.
func CoerceFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if !isFinite(f) {
		return 0, false
	}
	return f, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
