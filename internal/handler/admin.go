package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

// AdminHandler exposes operator actions.
type AdminHandler struct {
	Engine    *service.ReservationService
	Sweeper   *service.Sweeper
	Retention time.Duration // purge default when no older_than is given
	Log       *slog.Logger
}

func NewAdminHandler(engine *service.ReservationService, sweeper *service.Sweeper, retention time.Duration, log *slog.Logger) *AdminHandler {
	if engine == nil || sweeper == nil {
		panic("nil service passed to NewAdminHandler")
	}
	return &AdminHandler{Engine: engine, Sweeper: sweeper, Retention: retention, Log: orLogger(log)}
}

// CancelHold handles DELETE /v1/holds/:id.
func (h *AdminHandler) CancelHold(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return badRequest(c, "invalid hold id")
	}
	hold, err := h.Engine.CancelHold(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, hold)
}

// Purge handles POST /v1/admin/purge?older_than=720h.
func (h *AdminHandler) Purge(c echo.Context) error {
	older := h.Retention
	if v := c.QueryParam("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return badRequest(c, "invalid older_than")
		}
		older = d
	}
	n, err := h.Engine.PurgeTerminal(c.Request().Context(), older)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"purged": n})
}

// Sweep handles POST /v1/admin/sweep, one sweep pass on demand.
func (h *AdminHandler) Sweep(c echo.Context) error {
	stats, err := h.Sweeper.SweepOnce(c.Request().Context())
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"holds_expired":   stats.HoldsExpired,
		"tickets_expired": stats.TicketsExpired,
		"trips":           stats.Trips,
	})
}
