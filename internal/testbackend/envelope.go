package testbackend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const codeOK = 200

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// apiError is a failure rendered as an envelope. Business rejections use HTTP 200
// with a non-200 code; auth, permission, not-found and server failures also set
// the HTTP status.
type apiError struct {
	code    int
	message string
}

func (e *apiError) Error() string { return fmt.Sprintf("%d: %s", e.code, e.message) }

var (
	errUnauthorized = &apiError{code: http.StatusUnauthorized, message: "not logged in or token expired"}
	errForbidden    = &apiError{code: http.StatusForbidden, message: "access forbidden"}
)

func reject(message string) error { return &apiError{code: http.StatusBadRequest, message: message} }

func notFound(what string) error {
	return &apiError{code: http.StatusNotFound, message: what + " not found"}
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Code: codeOK, Message: "success", Data: data})
}

func newErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := resolveError(err, log, c)
		status := http.StatusOK
		switch {
		case code == http.StatusUnauthorized, code == http.StatusForbidden,
			code == http.StatusNotFound, code >= http.StatusInternalServerError:
			status = code
		}
		_ = c.JSON(status, envelope{Code: code, Message: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.code, ae.message
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, "internal server error"
}
