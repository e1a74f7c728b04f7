// Package api renders every HTTP response in a single JSON envelope.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Error codes shared by all handlers.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is the error body of a failed response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *Error    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OK writes a successful envelope.
func OK(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

// Fail builds an HTTP error that ErrorHandler renders with the given code.
func Fail(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, &Error{Code: code, Message: message})
}

// FailWithDetails is Fail with structured details attached.
func FailWithDetails(status int, code, message string, details any) *echo.HTTPError {
	return echo.NewHTTPError(status, &Error{Code: code, Message: message, Details: details})
}

// Internal wraps an unexpected error. The cause is logged by ErrorHandler
// and never sent to the client.
func Internal(err error) *echo.HTTPError {
	return Fail(http.StatusInternalServerError, CodeInternal, "Internal server error").SetInternal(err)
}

// ErrorHandler renders errors returned by handlers and middleware as the
// failure envelope. Server errors are logged with their cause.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := resolve(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, Response{Error: body, Timestamp: time.Now().UTC()})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}

func resolve(err error) (int, *Error) {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return http.StatusInternalServerError, &Error{Code: CodeInternal, Message: "Internal server error"}
	}

	if body, ok := he.Message.(*Error); ok {
		if he.Code == http.StatusInternalServerError {
			return he.Code, &Error{Code: body.Code, Message: "Internal server error"}
		}
		return he.Code, body
	}

	code := codeForStatus(he.Code)
	if he.Code == http.StatusInternalServerError {
		return he.Code, &Error{Code: code, Message: "Internal server error"}
	}
	msg := http.StatusText(he.Code)
	if he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}
	return he.Code, &Error{Code: code, Message: msg}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusUnsupportedMediaType:
		return CodeInvalidInput
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusMethodNotAllowed:
		return CodeMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return CodeTimeout
	}
	if status >= http.StatusInternalServerError {
		return CodeInternal
	}
	return CodeInvalidInput
}
