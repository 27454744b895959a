package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trailkeep",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Ingestion
	SamplesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "ingest",
		Name:      "samples_received_total",
		Help:      "Total samples submitted for ingestion",
	})

	PointsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "ingest",
		Name:      "points_added_total",
		Help:      "Total samples accepted and appended to the point log",
	})

	PointsRedacted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "ingest",
		Name:      "points_redacted_total",
		Help:      "Total samples dropped because they fell inside a privacy zone",
	})

	PointsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "ingest",
		Name:      "points_rejected_total",
		Help:      "Total samples dropped by validation or gating",
	}, []string{"reason"})

	// Point log
	LogAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "log",
		Name:      "appends_total",
		Help:      "Total records appended to the point log",
	}, []string{"format"})

	LogScanSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "log",
		Name:      "scan_skipped_total",
		Help:      "Total malformed records skipped while scanning",
	})

	LogTailRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "log",
		Name:      "tail_repairs_total",
		Help:      "Total torn final lines removed at startup",
	})

	// Materializer
	Rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "materializer",
		Name:      "rebuilds_total",
		Help:      "Total artifact rebuilds by trigger and result",
	}, []string{"trigger", "result"})

	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trailkeep",
		Subsystem: "materializer",
		Name:      "rebuild_duration_seconds",
		Help:      "Duration of a full artifact rebuild",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	ArtifactPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailkeep",
		Subsystem: "materializer",
		Name:      "artifact_points",
		Help:      "Number of vertices in the last published artifact",
	})

	// Privacy zones
	ZoneReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "privacy",
		Name:      "zone_reloads_total",
		Help:      "Total privacy zone cache reloads",
	}, []string{"result"})

	// Enrichment
	EnrichmentFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "enrichment",
		Name:      "fetches_total",
		Help:      "Total weather lookups by outcome",
	}, []string{"outcome"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailkeep",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailkeep",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}
