package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/metrics"
)

var errRateLimited = errors.New("weather lookup rate limited")

// WeatherConfig tunes the enrichment lookup.
type WeatherConfig struct {
	MinInterval time.Duration // minimum gap between upstream calls
	Timeout     time.Duration // per-call deadline
	CacheTTL    time.Duration
}

// WeatherService enriches the current location with weather data. Lookups
// are cached, rate limited, deduplicated while in flight and protected by a
// circuit breaker. Any failure yields no data rather than an error.
type WeatherService struct {
	fetcher ports.WeatherFetcher
	cache   ports.CacheService
	log     ports.PointLog
	cfg     WeatherConfig

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*domain.Weather]
	group   singleflight.Group
}

// NewWeatherService creates a WeatherService. cache may be nil.
func NewWeatherService(fetcher ports.WeatherFetcher, cache ports.CacheService, log ports.PointLog, cfg WeatherConfig) *WeatherService {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	settings := gobreaker.Settings{
		Name:        "weather",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &WeatherService{
		fetcher: fetcher,
		cache:   cache,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		breaker: gobreaker.NewCircuitBreaker[*domain.Weather](settings),
	}
}

// Current returns weather at the last accepted point, or nil when there is
// no point yet or the lookup failed.
func (s *WeatherService) Current(ctx context.Context) *domain.Weather {
	p := s.log.Cursor()
	if p == nil {
		return nil
	}
	return s.At(ctx, p.Lat, p.Lon)
}

// At returns weather at (lat, lon), or nil when it is unavailable.
func (s *WeatherService) At(ctx context.Context, lat, lon float64) *domain.Weather {
	// Two decimals is about a kilometre, close enough to share a reading.
	key := fmt.Sprintf("weather:%.2f:%.2f", lat, lon)

	if w := s.cached(ctx, key); w != nil {
		metrics.EnrichmentFetches.WithLabelValues("cache").Inc()
		return w
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if !s.limiter.Allow() {
			return nil, errRateLimited
		}
		return s.breaker.Execute(func() (*domain.Weather, error) {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
			defer cancel()
			return s.fetcher.Current(fctx, lat, lon)
		})
	})
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, errRateLimited):
			outcome = "rate_limited"
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			outcome = "breaker_open"
		}
		metrics.EnrichmentFetches.WithLabelValues(outcome).Inc()
		slog.Debug("weather lookup unavailable", "outcome", outcome, "error", err)
		return nil
	}

	w, _ := v.(*domain.Weather)
	if w == nil {
		return nil
	}
	metrics.EnrichmentFetches.WithLabelValues("ok").Inc()
	s.store(ctx, key, w)
	return w
}

func (s *WeatherService) cached(ctx context.Context, key string) *domain.Weather {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil || data == nil {
		metrics.CacheMisses.WithLabelValues("weather").Inc()
		return nil
	}
	var w domain.Weather
	if err := json.Unmarshal(data, &w); err != nil {
		return nil
	}
	metrics.CacheHits.WithLabelValues("weather").Inc()
	return &w
}

func (s *WeatherService) store(ctx context.Context, key string, w *domain.Weather) {
	if s.cache == nil {
		return
	}
	if data, err := json.Marshal(w); err == nil {
		_ = s.cache.Set(ctx, key, data, int(s.cfg.CacheTTL/time.Second))
	}
}
