package router // registers HTTP routes for the API

import (
	"github.com/labstack/echo/v4"                             // web framework
	echomw "github.com/labstack/echo/v4/middleware"           // recover
	"github.com/prometheus/client_golang/prometheus/promhttp" // metrics exposition
	"go.uber.org/zap"                                         // structured logs

	"github.com/iliyamo/resident-gate/internal/handler"    // HTTP handlers
	"github.com/iliyamo/resident-gate/internal/middleware" // JWT, rate limit, logging
)

// Deps bundles what the routes need.
type Deps struct {
	Commands  *handler.CommandHandler
	Guest     *handler.GuestHandler
	JWTSecret string
	// RateLimit guards the guest link; nil means unlimited.
	RateLimit echo.MiddlewareFunc
	Log       *zap.Logger
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// A panic in one request never takes the process down.
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(d.Log))
	e.Use(middleware.Metrics())

	RegisterRoutes(e)
	RegisterCommands(e, d.Commands, d.JWTSecret)
	RegisterGuest(e, d.Guest, d.RateLimit)
	return e
}

// RegisterRoutes registers routes that need no authentication: health and
// Prometheus metrics.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterCommands mounts the chat command boundary. Every call carries a
// transport token naming the caller.
func RegisterCommands(e *echo.Echo, h *handler.CommandHandler, jwtSecret string) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	g.POST("/commands", h.Handle)
}

// RegisterGuest mounts the guest link. It is public, so it is rate limited.
func RegisterGuest(e *echo.Echo, h *handler.GuestHandler, limit echo.MiddlewareFunc) {
	var mws []echo.MiddlewareFunc
	if limit != nil {
		mws = append(mws, limit)
	}
	e.GET("/v1/guest/:token", h.Show, mws...)
	e.POST("/v1/guest/:token", h.Redeem, mws...)
}
