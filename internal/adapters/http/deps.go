package http

import (
	"context"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/trailkeep/internal/core/usecases"
)

// ArtifactSource opens the published public track.
type ArtifactSource interface {
	Open() (*os.File, os.FileInfo, error)
}

// Pinger is a dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Ingest       *usecases.IngestService
	Points       *usecases.PointService
	Routesets    *usecases.RoutesetService
	Weather      *usecases.WeatherService
	Redactor     *usecases.PrivacyRedactor
	Materializer *usecases.Materializer
	Artifact     ArtifactSource
	LogPath      string
	AuthToken    string
	NATS         *nats.Conn
	Cache        Pinger
	OpenAPIPath  string
}
