package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/claimsense/claimsense/internal/platform/api"
)

// BodyLimit caps request bodies at limit bytes. Paths listed in overrides
// get their own cap instead; the note upload endpoint needs more room than
// a JSON claim.
//
// Requests announcing a larger Content-Length are rejected up front with
// 413 PAYLOAD_TOO_LARGE. Bodies without a length are wrapped so reading past
// the cap fails with *http.MaxBytesError.
func BodyLimit(limit int64, overrides map[string]int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			max := limit
			if v, ok := overrides[req.URL.Path]; ok {
				max = v
			}
			if max <= 0 {
				return next(c)
			}

			if req.ContentLength > max {
				return api.Fail(http.StatusRequestEntityTooLarge, api.CodePayloadTooLarge,
					fmt.Sprintf("Request body exceeds maximum allowed size of %d bytes", max))
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, max)
			return next(c)
		}
	}
}

// ParseLimit parses a size such as "1M", "512K" or "10MB" into bytes. A bare
// number is taken as bytes.
func ParseLimit(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(v, "G") || strings.HasSuffix(v, "GB"):
		multiplier = 1 << 30
		v = strings.TrimRight(v, "GB")
	case strings.HasSuffix(v, "M") || strings.HasSuffix(v, "MB"):
		multiplier = 1 << 20
		v = strings.TrimRight(v, "MB")
	case strings.HasSuffix(v, "K") || strings.HasSuffix(v, "KB"):
		multiplier = 1 << 10
		v = strings.TrimRight(v, "KB")
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * multiplier, nil
}
