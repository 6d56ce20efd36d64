package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-seat-reservation/internal/middleware"
	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

// ReservationHandler serves customer-facing seat selection.
type ReservationHandler struct {
	Engine *service.ReservationService
	Log    *slog.Logger
}

// NewReservationHandler panics when engine is nil.
func NewReservationHandler(engine *service.ReservationService, log *slog.Logger) *ReservationHandler {
	if engine == nil {
		panic("nil engine passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: engine, Log: orLogger(log)}
}

type reserveBody struct {
	SeatLabels []string          `json:"seat_labels"`
	Passengers []model.Passenger `json:"passengers"`
}

// Reserve handles POST /v1/trips/:id/reservations.  The body pairs
// seat_labels with passengers by index.  On success it returns 201 with the
// hold ids, the holder token and the lease end; the token is needed to
// attach an order.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	var body reserveBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	req := service.ReserveRequest{
		TripID:     c.Param("id"),
		SeatLabels: body.SeatLabels,
		Passengers: body.Passengers,
	}
	if uid := middleware.UserID(c); uid != "" {
		req.HolderUserID = &uid
	}
	res, err := h.Engine.Reserve(c.Request().Context(), req)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Unavailable handles GET /v1/trips/:id/unavailable.  The list is for
// display and may trail the store by a couple of seconds.
func (h *ReservationHandler) Unavailable(c echo.Context) error {
	tripID := c.Param("id")
	labels, err := h.Engine.ListUnavailable(c.Request().Context(), tripID)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"trip_id": tripID, "unavailable": labels})
}
