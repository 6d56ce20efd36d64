package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-seat-reservation/internal/queue"
	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

// OrderHandler is the surface the order service calls.
type OrderHandler struct {
	Engine  *service.ReservationService
	Tickets *service.TicketService
	Log     *slog.Logger
}

func NewOrderHandler(engine *service.ReservationService, tickets *service.TicketService, log *slog.Logger) *OrderHandler {
	if engine == nil || tickets == nil {
		panic("nil service passed to NewOrderHandler")
	}
	return &OrderHandler{Engine: engine, Tickets: tickets, Log: orLogger(log)}
}

// AttachHolds handles POST /v1/orders/:id/holds with
// {"hold_ids": [...], "holder_token": "..."}.  Repeating it for the same
// order is harmless; attaching a hold that already belongs to another
// order is refused.
func (h *OrderHandler) AttachHolds(c echo.Context) error {
	var body struct {
		HoldIDs     []uint64 `json:"hold_ids"`
		HolderToken string   `json:"holder_token"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	orderID := c.Param("id")
	if err := h.Engine.AttachOrder(c.Request().Context(), body.HoldIDs, body.HolderToken, orderID); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order_id": orderID, "hold_ids": body.HoldIDs})
}

// StatusChanged handles POST /v1/orders/:id/status, the webhook form of
// the order.status.changed event.  Deliveries may repeat.
func (h *OrderHandler) StatusChanged(c echo.Context) error {
	var body struct {
		OldStatus string `json:"old_status"`
		NewStatus string `json:"new_status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.NewStatus == "" {
		return badRequest(c, "new_status is required")
	}
	ev := queue.OrderStatusChangedEvent{OrderID: c.Param("id"), OldStatus: body.OldStatus, NewStatus: body.NewStatus}
	if err := h.Engine.OnOrderStatusChanged(c.Request().Context(), ev); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Holds handles GET /v1/orders/:id/holds.
func (h *OrderHandler) Holds(c echo.Context) error {
	holds, err := h.Engine.OrderHolds(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"holds": holds})
}

// ListTickets handles GET /v1/orders/:id/tickets.
func (h *OrderHandler) ListTickets(c echo.Context) error {
	tickets, err := h.Tickets.TicketsForOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}
