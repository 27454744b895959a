package http

import (
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/trailkeep/internal/pkg/metrics"
)

const handlerTimeout = 15 * time.Second

// trackSunset is when the /v1/track alias goes away.
var trackSunset = time.Date(2027, time.June, 30, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip), streamed bodies included
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Devices post every few seconds, so the per-IP budget is generous.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	auth := TokenAuth(deps.AuthToken, "header:"+fiber.HeaderAuthorization)

	v1 := app.Group("/v1")

	// Ingestion and raw projections
	v1.Post("/points", auth, IngestPointsHandler(deps))
	v1.Get("/points", auth, PointsArrayHandler(deps))
	v1.Get("/points.geojson", auth, PointsGeoJSONHandler(deps))
	v1.Get("/points/last", auth, timeout.NewWithContext(LastPointHandler(deps), handlerTimeout))

	// Public artifact
	v1.Get("/public/track.geojson", PublicTrackHandler(deps))

	// Admin
	v1.Post("/admin/reset", auth, timeout.NewWithContext(ResetHandler(deps), handlerTimeout))
	v1.Post("/admin/rebuild", auth, timeout.NewWithContext(RebuildHandler(deps), handlerTimeout))
	v1.Get("/zones", auth, timeout.NewWithContext(ListZonesHandler(deps), handlerTimeout))

	// Routesets
	v1.Get("/routesets", timeout.NewWithContext(ListRoutesetsHandler(deps), handlerTimeout))
	v1.Post("/routesets", auth, CreateRoutesetHandler(deps))
	v1.Get("/routesets/:id", RoutesetHandler(deps))
	v1.Delete("/routesets/:id", auth, timeout.NewWithContext(DeleteRoutesetHandler(deps), handlerTimeout))

	// Enrichment
	v1.Get("/weather", timeout.NewWithContext(WeatherHandler(deps), handlerTimeout))

	// Deprecated alias of the redacted line projection
	v1.Get("/track",
		DeprecationMiddleware([]DeprecatedRoute{{
			Path:        "/v1/track",
			SunsetDate:  trackSunset,
			Alternative: "/v1/points.geojson?redact=true",
		}}),
		auth,
		LegacyTrackHandler(deps),
	)

	app.Post("/graphql", auth, GraphQLHandler(deps))

	SetupDocs(app, deps.OpenAPIPath)

	// WebSocket; browsers cannot set headers, so the token travels in the query.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", TokenAuth(deps.AuthToken, "query:token"), websocket.New(WebSocketHandler(deps.NATS)))
}

// TokenAuth guards a route with the shared bearer token. An empty token
// disables the check.
func TokenAuth(token, lookup string) fiber.Handler {
	if token == "" {
		slog.Warn("auth token not configured, protected routes are open", "lookup", lookup)
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	cfg := keyauth.Config{
		KeyLookup: lookup,
		Validator: func(_ *fiber.Ctx, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
				return true, nil
			}
			return false, keyauth.ErrMissingOrMalformedAPIKey
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return errUnauthorized(c, "missing or invalid token")
		},
	}
	if lookup == "header:"+fiber.HeaderAuthorization {
		cfg.AuthScheme = "Bearer"
	}
	return keyauth.New(cfg)
}
