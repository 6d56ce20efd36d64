package router

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/trip-seat-reservation/internal/handler"
	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/repository/memstore"
	"github.com/iliyamo/trip-seat-reservation/internal/service"
	"github.com/iliyamo/trip-seat-reservation/internal/utils"
)

const secret = "router-secret"

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	holds, tickets := memstore.NewHolds(), memstore.NewTickets()
	catalog := memstore.NewCatalog(model.Trip{
		ID:         "T1",
		SeatLabels: []string{"1", "2"},
		PassengerSchema: model.PassengerSchema{Version: 1, Fields: []model.PassengerField{
			{Key: "name", Label: "Name", Required: true, Role: model.RoleName},
		}},
	})
	opts := []service.Option{service.WithLogger(log)}
	issuer := service.NewTicketService(holds, tickets, catalog, opts...)
	engine := service.NewReservationService(service.ReservationDeps{Holds: holds, Catalog: catalog, Tickets: issuer}, opts...)
	sweeper := service.NewSweeper(holds, tickets, nil, service.SweeperConfig{}, opts...)

	rh := handler.NewReservationHandler(engine, log)
	e := echo.New()
	RegisterRoutes(e, handler.Ready(nil), rh)
	RegisterCustomer(e, rh, secret, nil)
	RegisterOrderService(e, handler.NewOrderHandler(engine, issuer, log), secret)
	RegisterGate(e, handler.NewTicketHandler(service.NewValidationService(tickets, nil, opts...), log), secret, nil)
	RegisterOperator(e, handler.NewAdminHandler(engine, sweeper, time.Hour, log), secret)
	return e
}

func call(t *testing.T, e *echo.Echo, method, path, role, body string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if role != "" {
		tok, err := utils.NewAccessToken(secret, "caller-1", role, time.Minute)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestRouteRoles(t *testing.T) {
	e := newServer(t)
	reserve := `{"seat_labels":["1"],"passengers":[{"name":"a"}]}`

	cases := []struct {
		name, method, path, role, body string
		want                           int
	}{
		{"health", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"ready", http.MethodGet, "/readyz", "", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"availability is public", http.MethodGet, "/v1/trips/T1/unavailable", "", "", http.StatusOK},
		{"reserve needs a token", http.MethodPost, "/v1/trips/T1/reservations", "", reserve, http.StatusUnauthorized},
		{"gate cannot reserve", http.MethodPost, "/v1/trips/T1/reservations", utils.RoleGate, reserve, http.StatusForbidden},
		{"customer reserves", http.MethodPost, "/v1/trips/T1/reservations", utils.RoleCustomer, reserve, http.StatusCreated},
		{"customer cannot post status", http.MethodPost, "/v1/orders/O-1/status", utils.RoleCustomer, `{"new_status":"completed"}`, http.StatusForbidden},
		{"order service posts status", http.MethodPost, "/v1/orders/O-1/status", utils.RoleOrderService, `{"new_status":"completed"}`, http.StatusNoContent},
		{"operator reads holds", http.MethodGet, "/v1/orders/O-1/holds", utils.RoleOperator, "", http.StatusOK},
		{"operator cannot attach", http.MethodPost, "/v1/orders/O-1/holds", utils.RoleOperator, `{}`, http.StatusForbidden},
		{"customer cannot redeem", http.MethodPost, "/v1/tickets/ABC/redeem", utils.RoleCustomer, "", http.StatusForbidden},
		{"gate redeems", http.MethodPost, "/v1/tickets/ABC/redeem", utils.RoleGate, "", http.StatusNotFound},
		{"gate cannot purge", http.MethodPost, "/v1/admin/purge", utils.RoleGate, "", http.StatusForbidden},
		{"operator sweeps", http.MethodPost, "/v1/admin/sweep", utils.RoleOperator, "", http.StatusOK},
		{"operator cancels", http.MethodDelete, "/v1/holds/1", utils.RoleOperator, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, call(t, e, tc.method, tc.path, tc.role, tc.body))
		})
	}
}
