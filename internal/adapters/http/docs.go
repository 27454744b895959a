package http

import (
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"
)

// defaultOpenAPIPath is relative to the working directory of the api process.
const defaultOpenAPIPath = "api/openapi.yaml"

// The UI keeps the bearer token across reloads so the protected /v1 routes
// can be tried from the page.
const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Trailkeep API - Swagger UI</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
  <style>body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/docs/openapi.yaml',
      dom_id: '#swagger-ui',
      persistAuthorization: true,
      docExpansion: 'list',
      tryItOutEnabled: true,
    });
  </script>
</body>
</html>`

// openAPIFile serves the OpenAPI document from disk, re-read on every request
// so an edited document is picked up without a restart.
type openAPIFile string

func (p openAPIFile) Open() (*os.File, os.FileInfo, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

// SetupDocs registers Swagger UI at /docs and the OpenAPI document at
// /docs/openapi.yaml. An empty path uses api/openapi.yaml.
func SetupDocs(app *fiber.App, path string) {
	if path == "" {
		path = defaultOpenAPIPath
	}
	doc := openAPIFile(path)

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(swaggerUIHTML)
	})

	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		f, info, err := doc.Open()
		if errors.Is(err, os.ErrNotExist) {
			return errNotFound(c, "openapi.yaml not found")
		}
		if err != nil {
			return errInternal(c, "openapi.yaml unreadable")
		}
		return sendFile(c, f, info, "application/yaml")
	})
}
