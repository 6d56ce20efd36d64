package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-seat-reservation/internal/handler"
	"github.com/iliyamo/trip-seat-reservation/internal/middleware"
	"github.com/iliyamo/trip-seat-reservation/internal/utils"
)

// RegisterCustomer registers seat reservation.  It requires a CUSTOMER
// token and runs behind limit (nil for none), which is keyed on the caller.
func RegisterCustomer(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleCustomer),
	}
	if limit != nil {
		mw = append(mw, limit)
	}
	e.POST("/v1/trips/:id/reservations", h.Reserve, mw...)
}
