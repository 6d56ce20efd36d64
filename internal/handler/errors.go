package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

// fail writes the JSON error response for a service error.  Conflicts
// carry their reason and seat so clients can tell a taken seat from a
// duplicate passenger.
func fail(c echo.Context, log *slog.Logger, err error) error {
	var ce *service.ConflictError
	switch {
	case errors.As(err, &ce):
		body := echo.Map{"error": "conflict", "reason": ce.Reason}
		if ce.SeatLabel != "" {
			body["seat_label"] = ce.SeatLabel
		}
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, service.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrTripNotSellable):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "trip is not on sale"})
	case errors.Is(err, service.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrHolderMismatch):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "holder token does not match"})
	case errors.Is(err, service.ErrUnavailable):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable"})
	case errors.Is(err, service.ErrInvariantViolation):
		log.Error("invariant violation", "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	log.Error("request failed", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func orLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
