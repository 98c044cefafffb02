package handler // HTTP handlers for the echo server

import (
	"net/http" // status codes

	"github.com/labstack/echo/v4" // web framework
)

// Health is a liveness endpoint for load balancers and monitoring. It
// returns a plain "ok" with 200.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
