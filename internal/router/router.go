package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/trip-seat-reservation/internal/handler"
)

// RegisterRoutes registers the unauthenticated routes: probes, metrics and
// the display-only availability list.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc, r *handler.ReservationHandler) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/v1/trips/:id/unavailable", r.Unavailable)
}
