package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-seat-reservation/internal/handler"
	"github.com/iliyamo/trip-seat-reservation/internal/middleware"
	"github.com/iliyamo/trip-seat-reservation/internal/utils"
)

// RegisterOrderService registers the routes the order service calls.
// Operators may read but not write.
func RegisterOrderService(e *echo.Echo, h *handler.OrderHandler, jwtSecret string) {
	g := e.Group("/v1/orders", middleware.JWTAuth(jwtSecret))
	write := middleware.RequireRole(utils.RoleOrderService)
	read := middleware.RequireRole(utils.RoleOrderService, utils.RoleOperator)

	g.POST("/:id/holds", h.AttachHolds, write)
	g.POST("/:id/status", h.StatusChanged, write)
	g.GET("/:id/holds", h.Holds, read)
	g.GET("/:id/tickets", h.ListTickets, read)
}

// RegisterGate registers ticket lookup and redemption for gate devices.
func RegisterGate(e *echo.Echo, h *handler.TicketHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleGate, utils.RoleOperator),
	}
	if limit != nil {
		mw = append(mw, limit)
	}
	g := e.Group("/v1/tickets", mw...)
	g.GET("/:code", h.Lookup)
	g.POST("/:code/redeem", h.Redeem)
}

// RegisterOperator registers manual hold cancellation and maintenance.
func RegisterOperator(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleOperator),
	}
	e.DELETE("/v1/holds/:id", h.CancelHold, mw...)
	g := e.Group("/v1/admin", mw...)
	g.POST("/purge", h.Purge)
	g.POST("/sweep", h.Sweep)
}
