package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xraph/signoff"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a signoff error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, signoff.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, signoff.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, signoff.ErrConflict), errors.Is(err, signoff.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, signoff.ErrStoreFailure), errors.Is(err, signoff.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError is the echo HTTPErrorHandler. It writes {"error": msg}
// with the status derived from the error kind.
func (a *API) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusFor(err)
	msg := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}

	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.Int("status", code),
			slog.String("error", err.Error()),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		a.logger.Warn("write error response", slog.String("error", err.Error()))
	}
}
