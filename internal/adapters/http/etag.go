package http

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ETagMiddleware computes a weak ETag from buffered response bodies and
// returns 304 Not Modified if the client already has it. Streamed bodies and
// responses that already carry an ETag are left alone.
func ETagMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}

		if c.Method() != fiber.MethodGet || c.Response().StatusCode() != 200 {
			return nil
		}
		// Reading a streamed body would buffer all of it.
		if c.Response().IsBodyStream() || len(c.Response().Header.Peek(fiber.HeaderETag)) > 0 {
			return nil
		}

		body := c.Response().Body()
		if len(body) == 0 {
			return nil
		}

		h := sha256.Sum256(body)
		etag := `W/"` + hex.EncodeToString(h[:8]) + `"`
		c.Set(fiber.HeaderETag, etag)

		if c.Get(fiber.HeaderIfNoneMatch) == etag {
			c.Status(304)
			c.Response().ResetBody()
		}
		return nil
	}
}

// fileETag derives a strong validator from size and modification time, which
// change on every atomic publish.
func fileETag(info os.FileInfo) string {
	return `"` + strconv.FormatInt(info.Size(), 16) + "-" + strconv.FormatInt(info.ModTime().UnixNano(), 16) + `"`
}
