// Package httpapi is the thin HTTP adapter layer: Echo route registration,
// request/response shapes, and handlers that translate between the wire
// protocol and the internal dag/scheduler/coordinator/dataref packages.
// No domain logic lives here — every handler is a decode-call-encode shim.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
)

// Envelope is the uniform response shape every endpoint returns.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func ok(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Success: true, Data: data})
}

// fail writes err as the stable error envelope, mapping it through
// apperror.As so handlers can return any error and still get the right
// HTTP status.
func fail(c echo.Context, err error) error {
	ae := apperror.As(err)
	return c.JSON(ae.HTTPStatus(), Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    string(ae.Code),
			Message: ae.Message,
			Details: ae.Details,
		},
	})
}

// HTTPErrorHandler replaces echo's default error handler so that both
// handler-returned apperror.AppErrors and echo's own routing errors (404,
// method not allowed, bind failures) surface through the same envelope
// shape.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if httpErr, ok := err.(*echo.HTTPError); ok {
		code := httpErr.Code
		msg, _ := httpErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(code)
		}
		_ = c.JSON(code, Envelope{Success: false, Error: &ErrorBody{Code: "HTTP_ERROR", Message: msg}})
		return
	}
	_ = fail(c, err)
}
