package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

// TicketHandler serves gate scanners.
type TicketHandler struct {
	Gate *service.ValidationService
	Log  *slog.Logger
}

func NewTicketHandler(gate *service.ValidationService, log *slog.Logger) *TicketHandler {
	if gate == nil {
		panic("nil validation service passed to NewTicketHandler")
	}
	return &TicketHandler{Gate: gate, Log: orLogger(log)}
}

// Lookup handles GET /v1/tickets/:code.
func (h *TicketHandler) Lookup(c echo.Context) error {
	t, err := h.Gate.Lookup(c.Request().Context(), c.Param("code"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, t)
}

var redeemStatus = map[service.RedeemOutcome]int{
	service.RedeemSuccess:     http.StatusOK,
	service.RedeemAlreadyUsed: http.StatusConflict,
	service.RedeemNotActive:   http.StatusConflict,
	service.RedeemNotFound:    http.StatusNotFound,
}

// Redeem handles POST /v1/tickets/:code/redeem.  The body always carries
// the outcome so a scanner can show it without parsing status codes.
func (h *TicketHandler) Redeem(c echo.Context) error {
	out, t, err := h.Gate.Redeem(c.Request().Context(), c.Param("code"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	body := echo.Map{"outcome": out}
	if t != nil {
		body["ticket"] = t
	}
	return c.JSON(redeemStatus[out], body)
}
