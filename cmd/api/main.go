package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/trailkeep/internal/adapters/filestore"
	"github.com/samirrijal/trailkeep/internal/adapters/http"
	natsadapter "github.com/samirrijal/trailkeep/internal/adapters/nats"
	"github.com/samirrijal/trailkeep/internal/adapters/valkey"
	"github.com/samirrijal/trailkeep/internal/adapters/weather"
	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/core/usecases"
	"github.com/samirrijal/trailkeep/internal/pkg/config"
	"github.com/samirrijal/trailkeep/internal/pkg/logging"
	"github.com/samirrijal/trailkeep/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("trailkeep-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Privacy zones
	zones := filestore.NewZoneFile(cfg.Storage.Path(cfg.Storage.Zones))
	redactor := usecases.NewPrivacyRedactor(zones, cfg.Privacy.ZoneTTL)

	// Point log
	logPath := cfg.Storage.Path(cfg.Storage.PointLog)
	pointLog, err := filestore.Open(ctx, logPath,
		filestore.WithZoneMatcher(redactor),
		filestore.WithTailWindow(cfg.Storage.TailWindow),
	)
	if err != nil {
		log.Fatalf("point log: %v", err)
	}
	defer pointLog.Close()
	slog.Info("point log open", "path", logPath, "format", pointLog.Format().String())

	// Materializer
	artifact := filestore.NewArtifactFile(cfg.Storage.Path(cfg.Storage.Artifact))
	materializer := usecases.NewMaterializer(pointLog, artifact, cfg.Materializer.MinInterval)
	if err := materializer.ForceRebuild(ctx); err != nil {
		slog.Warn("initial rebuild failed", "error", err)
	}

	// Cache
	var cache ports.CacheService
	var cachePinger http.Pinger
	if cfg.Valkey.Enabled {
		vc, err := valkey.New(ctx, cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable", "error", err)
		} else {
			defer vc.Close()
			cache, cachePinger = vc, vc
		}
	}

	// NATS
	var publisher ports.EventPublisher
	var natsPub *natsadapter.Publisher
	if cfg.NATS.Enabled {
		natsPub, err = natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			defer natsPub.Close()
			publisher = natsPub
		}
	}

	gate := usecases.Gate{
		MinDistanceMeters: cfg.Ingest.MinDistanceM,
		MinInterval:       time.Duration(cfg.Ingest.MinIntervalMS) * time.Millisecond,
		MaxSpeedKmh:       cfg.Ingest.MaxSpeedKmh,
	}
	ingest := usecases.NewIngestService(pointLog, redactor, publisher, materializer, gate)

	// Imported batches arrive over JetStream so this process stays the only writer.
	if natsPub != nil {
		sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else {
			defer sub.Close()
			err := sub.SubscribeSamples(ctx, func(ctx context.Context, samples []domain.Sample) error {
				res, err := ingest.Ingest(ctx, samples)
				if err != nil {
					return err
				}
				slog.Info("imported batch", "samples", len(samples), "added", res.Added, "redacted", res.Redacted)
				return nil
			})
			if err != nil {
				slog.Warn("sample import subscription failed", "error", err)
			}
		}
	}

	weatherSvc := usecases.NewWeatherService(
		weather.NewClient(cfg.Weather.URL, cfg.Weather.Timeout),
		cache,
		pointLog,
		usecases.WeatherConfig{
			MinInterval: cfg.Weather.MinInterval,
			Timeout:     cfg.Weather.Timeout,
			CacheTTL:    cfg.Weather.CacheTTL,
		},
	)

	routesets := filestore.NewRoutesetStore(cfg.Storage.Path(cfg.Storage.Routesets), cfg.Storage.RoutesetDir())

	deps := &http.Dependencies{
		Ingest:       ingest,
		Points:       usecases.NewPointService(pointLog, materializer),
		Routesets:    usecases.NewRoutesetService(routesets, pointLog),
		Weather:      weatherSvc,
		Redactor:     redactor,
		Materializer: materializer,
		Artifact:     artifact,
		LogPath:      logPath,
		AuthToken:    cfg.Auth.Token,
		Cache:        cachePinger,
	}
	if natsPub != nil {
		deps.NATS = natsPub.Conn()
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		AppName:      "Trailkeep API",
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, If-None-Match",
		ExposeHeaders:    "ETag, Link, Deprecation, Sunset",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// Stop the debounce slot, then publish whatever it was holding.
	pending := materializer.Stats().Pending
	materializer.Close()
	if pending {
		if err := materializer.ForceRebuild(shutdownCtx); err != nil {
			slog.Warn("final rebuild failed", "error", err)
		}
	}

	slog.Info("server stopped")
}
