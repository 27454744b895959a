package domain

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether (lat, lon) is inside the box, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// PrivacyZone is an exclusion circle. Points within RadiusMeters of the
// centre are never persisted or published.
type PrivacyZone struct {
	ID           string  `json:"id"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadiusMeters float64 `json:"radius_meters"`
	Name         string  `json:"name,omitempty"`
	CreatedAt    string  `json:"createdAt,omitempty"`
}

// Routeset is the metadata of a named snapshot of the point log.
type Routeset struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"createdAt"`
	PointCount int    `json:"pointCount"`
	Redacted   bool   `json:"redacted"`
}

// Weather is the small enrichment payload returned for the current location.
type Weather struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	TemperatureC float64 `json:"temperatureC"`
	WindSpeedKmh float64 `json:"windSpeedKmh"`
	WeatherCode  int     `json:"weatherCode"`
	ObservedAt   string  `json:"observedAt"`
	FetchedAt    string  `json:"fetchedAt"`
}
