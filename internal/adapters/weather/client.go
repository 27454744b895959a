package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// Client implements ports.WeatherFetcher against an Open-Meteo compatible
// forecast endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient returns a Client for baseURL, e.g. https://api.open-meteo.com/v1/forecast.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type forecastResponse struct {
	Current *struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Current fetches current conditions at (lat, lon).
func (c *Client) Current(ctx context.Context, lat, lon float64) (*domain.Weather, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("current", "temperature_2m,wind_speed_10m,weather_code")
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather fetch: unexpected status %d", resp.StatusCode)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: weather response: %v", domain.ErrMalformedInput, err)
	}
	if body.Current == nil {
		return nil, fmt.Errorf("%w: weather response has no current block", domain.ErrMalformedInput)
	}

	return &domain.Weather{
		Lat:          lat,
		Lon:          lon,
		TemperatureC: body.Current.Temperature,
		WindSpeedKmh: body.Current.WindSpeed,
		WeatherCode:  body.Current.WeatherCode,
		ObservedAt:   body.Current.Time,
		FetchedAt:    c.now().UTC().Format(domain.TimestampLayout),
	}, nil
}
