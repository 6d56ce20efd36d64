package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
	"github.com/iliyamo/trip-seat-reservation/internal/repository/memstore"
	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type downHolds struct{ *memstore.Holds }

func (downHolds) ListUnavailable(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("list unavailable: %w", repository.ErrUnavailable)
}

type app struct {
	e     *echo.Echo
	holds *memstore.Holds
}

func newApp(t *testing.T, store func(*memstore.Holds) service.HoldStore) *app {
	t.Helper()
	holds := memstore.NewHolds()
	var hs service.HoldStore = holds
	if store != nil {
		hs = store(holds)
	}
	tickets := memstore.NewTickets()
	schema := model.PassengerSchema{Version: 1, Fields: []model.PassengerField{
		{Key: "name", Label: "Name", Required: true, Role: model.RoleName},
		{Key: "passport", Label: "Passport", Role: model.RoleIdentity},
	}}
	closed := time.Now().Add(-time.Hour)
	catalog := memstore.NewCatalog(
		model.Trip{ID: "T1", SeatLabels: []string{"1", "2", "3"}, PassengerSchema: schema,
			Departure: model.DepartureInfo{Origin: "A", Destination: "B", DepartsAt: time.Now().Add(48 * time.Hour)}},
		model.Trip{ID: "T-closed", SeatLabels: []string{"1"}, SaleEnd: &closed, PassengerSchema: schema},
	)
	opts := []service.Option{service.WithLogger(quiet)}
	issuer := service.NewTicketService(hs, tickets, catalog, opts...)
	engine := service.NewReservationService(service.ReservationDeps{
		Holds: hs, Catalog: catalog, Tickets: issuer,
	}, opts...)
	gate := service.NewValidationService(tickets, nil, opts...)
	sweeper := service.NewSweeper(hs, tickets, nil, service.SweeperConfig{}, opts...)

	rh := handler.NewReservationHandler(engine, quiet)
	oh := handler.NewOrderHandler(engine, issuer, quiet)
	th := handler.NewTicketHandler(gate, quiet)
	ah := handler.NewAdminHandler(engine, sweeper, 24*time.Hour, quiet)

	e := echo.New()
	e.POST("/v1/trips/:id/reservations", rh.Reserve)
	e.GET("/v1/trips/:id/unavailable", rh.Unavailable)
	e.POST("/v1/orders/:id/holds", oh.AttachHolds)
	e.POST("/v1/orders/:id/status", oh.StatusChanged)
	e.GET("/v1/orders/:id/holds", oh.Holds)
	e.GET("/v1/orders/:id/tickets", oh.ListTickets)
	e.GET("/v1/tickets/:code", th.Lookup)
	e.POST("/v1/tickets/:code/redeem", th.Redeem)
	e.DELETE("/v1/holds/:id", ah.CancelHold)
	e.POST("/v1/admin/purge", ah.Purge)
	e.POST("/v1/admin/sweep", ah.Sweep)
	return &app{e: e, holds: holds}
}

func (a *app) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type reserved struct {
	HoldIDs     []uint64 `json:"hold_ids"`
	HolderToken string   `json:"holder_token"`
}

func TestReserveAttachConfirmRedeem(t *testing.T) {
	a := newApp(t, nil)

	var res reserved
	code := a.do(t, http.MethodPost, "/v1/trips/T1/reservations",
		`{"seat_labels":["2","1"],"passengers":[{"name":"Sara","passport":"P1"},{"name":"Omid","passport":"P2"}]}`, &res)
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, res.HoldIDs, 2)
	assert.Len(t, res.HolderToken, 48)

	var unavailable struct {
		Unavailable []string `json:"unavailable"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/trips/T1/unavailable", "", &unavailable))
	assert.Equal(t, []string{"1", "2"}, unavailable.Unavailable)

	ids, _ := json.Marshal(res.HoldIDs)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/v1/orders/O-1/holds",
		fmt.Sprintf(`{"hold_ids":%s,"holder_token":"wrong"}`, ids), nil))
	attach := fmt.Sprintf(`{"hold_ids":%s,"holder_token":%q}`, ids, res.HolderToken)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/v1/orders/O-1/holds", attach, nil))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/v1/orders/O-1/holds", attach, nil))

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/orders/O-1/status", `{}`, nil))
	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/v1/orders/O-1/status", `{"new_status":"completed"}`, nil))
	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodPost, "/v1/orders/O-1/status", `{"new_status":"completed"}`, nil))

	var list struct {
		Tickets []model.Ticket `json:"tickets"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/orders/O-1/tickets", "", &list))
	require.Len(t, list.Tickets, 2)
	tk := list.Tickets[0]
	assert.Equal(t, "1", tk.SeatLabel)

	var holds struct {
		Holds []model.SeatHold `json:"holds"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/orders/O-1/holds", "", &holds))
	require.Len(t, holds.Holds, 2)
	assert.Equal(t, model.HoldConfirmed, holds.Holds[0].Status)

	var got model.Ticket
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/tickets/"+strings.ToLower(tk.TicketCode), "", &got))
	assert.Equal(t, tk.TicketCode, got.TicketCode)

	var redeem struct {
		Outcome string       `json:"outcome"`
		Ticket  model.Ticket `json:"ticket"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/v1/tickets/"+tk.TicketCode+"/redeem", "", &redeem))
	assert.Equal(t, "success", redeem.Outcome)
	assert.Equal(t, model.TicketUsed, redeem.Ticket.Status)

	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/v1/tickets/"+tk.TicketCode+"/redeem", "", &redeem))
	assert.Equal(t, "already_used", redeem.Outcome)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/tickets/NOPE/redeem", "", &redeem))
	assert.Equal(t, "not_found", redeem.Outcome)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/tickets/NOPE", "", nil))
}

func TestReserveErrorMapping(t *testing.T) {
	a := newApp(t, nil)
	one := `{"seat_labels":["1"],"passengers":[{"name":"a"}]}`
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/trips/T1/reservations", one, nil))

	var conflict struct {
		Reason    string `json:"reason"`
		SeatLabel string `json:"seat_label"`
	}
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/v1/trips/T1/reservations", one, &conflict))
	assert.Equal(t, "seat_taken", conflict.Reason)
	assert.Equal(t, "1", conflict.SeatLabel)

	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/v1/trips/T1/reservations",
		`{"seat_labels":["2","3"],"passengers":[{"name":"a","passport":"X"},{"name":"b","passport":"x"}]}`, &conflict))
	assert.Equal(t, "duplicate_identity", conflict.Reason)

	cases := map[string]struct {
		path, body string
		want       int
	}{
		"malformed json": {"/v1/trips/T1/reservations", `{"seat_labels":`, http.StatusBadRequest},
		"count mismatch": {"/v1/trips/T1/reservations", `{"seat_labels":["2","3"],"passengers":[{"name":"a"}]}`, http.StatusBadRequest},
		"unknown field":  {"/v1/trips/T1/reservations", `{"seat_labels":["2"],"passengers":[{"name":"a","age":"9"}]}`, http.StatusBadRequest},
		"unknown trip":   {"/v1/trips/T404/reservations", one, http.StatusNotFound},
		"sale closed":    {"/v1/trips/T-closed/reservations", one, http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, a.do(t, http.MethodPost, tc.path, tc.body, nil))
		})
	}
}

func TestUnavailableStoreIs503(t *testing.T) {
	a := newApp(t, func(h *memstore.Holds) service.HoldStore { return downHolds{h} })
	req := httptest.NewRequest(http.MethodGet, "/v1/trips/T1/unavailable", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAdminEndpoints(t *testing.T) {
	a := newApp(t, nil)
	var res reserved
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/trips/T1/reservations",
		`{"seat_labels":["3"],"passengers":[{"name":"a"}]}`, &res))

	var hold model.SeatHold
	path := fmt.Sprintf("/v1/holds/%d", res.HoldIDs[0])
	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, path, "", &hold))
	assert.Equal(t, model.HoldCancelled, hold.Status)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, path, "", nil))
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, "/v1/holds/999", "", nil))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodDelete, "/v1/holds/abc", "", nil))

	var purged struct {
		Purged int64 `json:"purged"`
	}
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/admin/purge?older_than=soon", "", nil))
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/admin/purge?older_than=-1h", "", nil))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/v1/admin/purge", "", &purged))
	assert.Zero(t, purged.Purged)

	var swept struct {
		HoldsExpired int64 `json:"holds_expired"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/v1/admin/sweep", "", &swept))
	assert.Zero(t, swept.HoldsExpired)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealthAndReady(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(map[string]handler.Pinger{"db": pinger{}, "memory": nil}))
	e.GET("/readyz-down", handler.Ready(map[string]handler.Pinger{"db": pinger{errors.New("refused")}}))

	for path, want := range map[string]int{"/healthz": 200, "/readyz": 200, "/readyz-down": 503} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}
