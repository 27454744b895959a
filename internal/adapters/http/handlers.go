package http

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/pkg/jsonstream"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeGeoJSON = "application/geo+json"
)

// IngestPointsHandler handles POST /v1/points.
// Accepts a bare array of samples, {"points": [...]} or {"locations": [...]}.
func IngestPointsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		samples, err := decodeSamples(c.Body())
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		res, err := deps.Ingest.Ingest(c.UserContext(), samples)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(res)
	}
}

// decodeSamples accepts the three body shapes devices send. Bare arrays go
// through the streaming decoder so large uploads are not buffered twice.
func decodeSamples(body []byte) ([]domain.Sample, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", domain.ErrMalformedInput)
	}

	switch trimmed[0] {
	case '[':
		var samples []domain.Sample
		err := jsonstream.Each(bytes.NewReader(trimmed), func(s domain.Sample) error {
			samples = append(samples, s)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return samples, nil

	case '{':
		var env struct {
			Points    []domain.Sample `json:"points"`
			Locations []domain.Sample `json:"locations"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
		if env.Points != nil {
			return env.Points, nil
		}
		if env.Locations != nil {
			return env.Locations, nil
		}
		return nil, fmt.Errorf("%w: expected \"points\" or \"locations\"", domain.ErrMalformedInput)
	}

	return nil, fmt.Errorf("%w: body must be an array or an object", domain.ErrMalformedInput)
}

// PointsArrayHandler handles GET /v1/points?redact=.
func PointsArrayHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		redact := c.QueryBool("redact", false)
		return stream(c, contentTypeJSON, func(ctx context.Context, w io.Writer) (int, error) {
			return deps.Points.WriteArray(ctx, w, redact)
		})
	}
}

// PointsGeoJSONHandler handles GET /v1/points.geojson?redact=.
func PointsGeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		redact := c.QueryBool("redact", false)
		return stream(c, contentTypeGeoJSON, func(ctx context.Context, w io.Writer) (int, error) {
			return deps.Points.WriteGeoJSON(ctx, w, redact)
		})
	}
}

// LegacyTrackHandler handles the deprecated GET /v1/track.
func LegacyTrackHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return stream(c, contentTypeGeoJSON, func(ctx context.Context, w io.Writer) (int, error) {
			return deps.Points.WriteGeoJSON(ctx, w, true)
		})
	}
}

// stream writes a projection through the fasthttp body stream, so memory
// stays bounded however long the log is. The status line is already sent
// when write runs; failures are logged and leave a truncated document.
func stream(c *fiber.Ctx, contentType string, write func(ctx context.Context, w io.Writer) (int, error)) error {
	logger := LoggerFromCtx(c.UserContext())
	ctx := context.WithoutCancel(c.UserContext())
	path := c.Path()

	c.Set(fiber.HeaderContentType, contentType)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		n, err := write(ctx, w)
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			logger.Error("projection stream failed", "path", path, "points", n, "error", err)
			return
		}
		logger.Debug("projection streamed", "path", path, "points", n)
	})
	return nil
}

// LastPointHandler handles GET /v1/points/last.
func LastPointHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := deps.Points.Last(c.UserContext())
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(p)
	}
}

// PublicTrackHandler handles GET /v1/public/track.geojson.
func PublicTrackHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f, info, err := deps.Artifact.Open()
		if err != nil {
			return errFromDomain(c, err)
		}

		return sendFile(c, f, info, contentTypeGeoJSON)
	}
}

// sendFile streams f with file validators, answering a matching
// If-None-Match with 304. It takes ownership of f.
func sendFile(c *fiber.Ctx, f *os.File, info os.FileInfo, contentType string) error {
	etag := fileETag(info)
	c.Set(fiber.HeaderETag, etag)
	c.Set(fiber.HeaderLastModified, info.ModTime().UTC().Format(httpDate))
	c.Set(fiber.HeaderContentType, contentType)

	if etagMatches(c.Get(fiber.HeaderIfNoneMatch), etag) {
		f.Close()
		return c.SendStatus(fiber.StatusNotModified)
	}
	return c.SendStream(f, int(info.Size()))
}

// etagMatches checks an If-None-Match list, ignoring weak prefixes.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || strings.TrimPrefix(tag, "W/") == want {
			return true
		}
	}
	return false
}

// ResetHandler handles POST /v1/admin/reset.
func ResetHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Points.Reset(c.UserContext()); err != nil {
			return errFromDomain(c, err)
		}
		LoggerFromCtx(c.UserContext()).Warn("point log reset")
		return c.JSON(fiber.Map{"status": "reset"})
	}
}

// RebuildHandler handles POST /v1/admin/rebuild.
func RebuildHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Points.Rebuild(c.UserContext()); err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(deps.Materializer.Stats())
	}
}

// ListZonesHandler handles GET /v1/zones.
func ListZonesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		zones := deps.Redactor.Zones(c.UserContext())
		if zones == nil {
			zones = []domain.PrivacyZone{}
		}
		return c.JSON(fiber.Map{"zones": zones})
	}
}

// ListRoutesetsHandler handles GET /v1/routesets?offset=&limit=.
func ListRoutesetsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := deps.Routesets.List(c.UserContext())
		if err != nil {
			return errFromDomain(c, err)
		}
		offset, limit := pageParams(c, 50, 200)
		page, pg := paginate(list, offset, limit)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

type createRoutesetRequest struct {
	Name   string `json:"name"`
	Redact *bool  `json:"redact"`
}

// CreateRoutesetHandler handles POST /v1/routesets. Snapshots are redacted
// unless the body says otherwise.
func CreateRoutesetHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req createRoutesetRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		redact := true
		if req.Redact != nil {
			redact = *req.Redact
		}

		rs, err := deps.Routesets.Create(c.UserContext(), req.Name, redact)
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Location("/v1/routesets/" + rs.ID)
		return c.Status(fiber.StatusCreated).JSON(rs)
	}
}

// RoutesetHandler handles GET /v1/routesets/:id by streaming the snapshot.
func RoutesetHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, err := deps.Routesets.Open(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		c.Set(fiber.HeaderContentType, contentTypeJSON)
		return c.SendStream(rc)
	}
}

// DeleteRoutesetHandler handles DELETE /v1/routesets/:id.
func DeleteRoutesetHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Routesets.Delete(c.UserContext(), c.Params("id")); err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// WeatherHandler handles GET /v1/weather. Enrichment is best effort, so
// any failure is 204 rather than an error.
func WeatherHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Weather == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		w := deps.Weather.Current(c.UserContext())
		if w == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(w)
	}
}
