package ports

import (
	"context"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishPoint(ctx context.Context, p *domain.Point) error
	PublishSamples(ctx context.Context, samples []domain.Sample) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeSamples(ctx context.Context, handler func(ctx context.Context, samples []domain.Sample) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// WeatherFetcher calls the external weather provider.
type WeatherFetcher interface {
	Current(ctx context.Context, lat, lon float64) (*domain.Weather, error)
}

// RebuildScheduler is notified when the point log changes.
type RebuildScheduler interface {
	ScheduleRebuild()
}
