package http

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).String(),
			"version": "dev",
		}
		if deps.Materializer != nil {
			body["materializer"] = deps.Materializer.Stats()
		}
		return c.JSON(body)
	}
}

// ReadyHandler checks the point log, NATS, and cache.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		allOK := true

		// Point log
		if deps.LogPath != "" {
			if _, err := os.Stat(deps.LogPath); err != nil {
				checks["point_log"] = "error: " + err.Error()
				allOK = false
			} else {
				checks["point_log"] = "ok"
			}
		} else {
			checks["point_log"] = "not configured"
			allOK = false
		}

		// NATS
		if deps.NATS != nil {
			if deps.NATS.IsConnected() {
				checks["nats"] = "ok"
			} else {
				checks["nats"] = "disconnected"
				allOK = false
			}
		} else {
			checks["nats"] = "not configured"
		}

		// Valkey cache
		if deps.Cache != nil {
			if err := deps.Cache.Ping(ctx); err != nil {
				checks["cache"] = "error: " + err.Error()
				allOK = false
			} else {
				checks["cache"] = "ok"
			}
		} else {
			checks["cache"] = "not configured"
		}

		// A failed rebuild leaves the previous artifact served, so it is reported but not fatal.
		if deps.Materializer != nil {
			if st := deps.Materializer.Stats(); st.LastError != "" {
				checks["materializer"] = "degraded: " + st.LastError
			} else {
				checks["materializer"] = "ok"
			}
		}

		status := "ready"
		code := 200
		if !allOK {
			status = "not ready"
			code = 503
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
