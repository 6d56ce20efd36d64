package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
	"github.com/iliyamo/trip-seat-reservation/internal/repository/memstore"
	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

var (
	_ service.HoldStore   = (*repository.SeatHoldRepo)(nil)
	_ service.HoldStore   = (*memstore.Holds)(nil)
	_ service.TicketStore = (*repository.TicketRepo)(nil)
	_ service.TicketStore = (*memstore.Tickets)(nil)
	_ service.TripCatalog = (*repository.TripRepo)(nil)
	_ service.TripCatalog = (*memstore.Catalog)(nil)
	_ service.Blacklist   = (*repository.BlacklistRepo)(nil)
	_ service.Blacklist   = (*memstore.Blacklist)(nil)
)

var departure = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: departure.Add(-72 * time.Hour)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	queue string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, q string, ev any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{q, ev})
	return p.err
}

func (p *recordingPublisher) count(q string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.queue == q {
			n++
		}
	}
	return n
}

type countingCache struct {
	mu          sync.Mutex
	entries     map[string][]string
	invalidated map[string]int
}

func newCountingCache() *countingCache {
	return &countingCache{entries: map[string][]string{}, invalidated: map[string]int{}}
}

func (c *countingCache) Get(_ context.Context, trip string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[trip]
	return v, ok
}

func (c *countingCache) Set(_ context.Context, trip string, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[trip] = labels
}

func (c *countingCache) Invalidate(_ context.Context, trips ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range trips {
		delete(c.entries, t)
		c.invalidated[t]++
	}
}

var schema = model.PassengerSchema{
	Version: 3,
	Fields: []model.PassengerField{
		{Key: "name", Label: "Full name", Required: true, Role: model.RoleName},
		{Key: "doc", Label: "Passport number", Role: model.RoleIdentity},
		{Key: "email", Label: "E-mail", Role: model.RoleContact},
	},
}

func trip(id string, seats ...string) model.Trip {
	return model.Trip{
		ID:              id,
		SeatLabels:      seats,
		Departure:       model.DepartureInfo{Origin: "Tehran", Destination: "Shiraz", DepartsAt: departure},
		PassengerSchema: schema,
	}
}

func pax(name, doc string) model.Passenger {
	p := model.Passenger{"name": name}
	if doc != "" {
		p["doc"] = doc
	}
	return p
}

type harness struct {
	clock     *clock
	holds     *memstore.Holds
	tickets   *memstore.Tickets
	catalog   *memstore.Catalog
	publisher *recordingPublisher
	cache     *countingCache
	engine    *service.ReservationService
	issuer    *service.TicketService
	gate      *service.ValidationService
	sweeper   *service.Sweeper
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	wrap      func(*memstore.Holds) service.HoldStore
	blacklist []string
	extra     []service.Option
}

func withHoldStore(wrap func(*memstore.Holds) service.HoldStore) harnessOpt {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func withBlacklist(ids ...string) harnessOpt {
	return func(c *harnessConfig) { c.blacklist = ids }
}

func withOptions(o ...service.Option) harnessOpt {
	return func(c *harnessConfig) { c.extra = append(c.extra, o...) }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	cfg := harnessConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	h := &harness{
		clock:     newClock(),
		holds:     memstore.NewHolds(),
		tickets:   memstore.NewTickets(),
		catalog:   memstore.NewCatalog(trip("T1", "1", "2", "3"), trip("T2", "1", "2", "3", "4", "5", "6", "12B")),
		publisher: &recordingPublisher{},
		cache:     newCountingCache(),
	}
	var store service.HoldStore = h.holds
	if cfg.wrap != nil {
		store = cfg.wrap(h.holds)
	}
	common := append([]service.Option{
		service.WithClock(h.clock.Now),
		service.WithHoldTTL(15 * time.Minute),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, cfg.extra...)

	h.issuer = service.NewTicketService(store, h.tickets, h.catalog, common...)
	h.engine = service.NewReservationService(service.ReservationDeps{
		Holds:     store,
		Catalog:   h.catalog,
		Blacklist: memstore.NewBlacklist(cfg.blacklist...),
		Cache:     h.cache,
		Publisher: h.publisher,
		Tickets:   h.issuer,
	}, common...)
	h.gate = service.NewValidationService(h.tickets, h.publisher, common...)
	h.sweeper = service.NewSweeper(store, h.tickets, h.cache, service.SweeperConfig{
		Interval:    time.Minute,
		BatchSize:   2,
		TicketGrace: 6 * time.Hour,
	}, common...)
	return h
}

func (h *harness) reserve(t *testing.T, tripID string, seats []string, people ...model.Passenger) (*service.ReservationResult, error) {
	t.Helper()
	return h.engine.Reserve(context.Background(), service.ReserveRequest{
		TripID:     tripID,
		SeatLabels: seats,
		Passengers: people,
	})
}

func (h *harness) unavailable(t *testing.T, tripID string) []string {
	t.Helper()
	labels, err := h.holds.ListUnavailable(context.Background(), tripID)
	if err != nil {
		t.Fatalf("list unavailable: %v", err)
	}
	return labels
}

// flakyHolds fails TryClaim for one seat with a storage error.
type flakyHolds struct {
	*memstore.Holds
	failSeat string
}

func (f *flakyHolds) TryClaim(ctx context.Context, req repository.ClaimRequest) (*model.SeatHold, error) {
	if req.SeatLabel == f.failSeat {
		return nil, errors.Join(repository.ErrUnavailable, errors.New("connection reset"))
	}
	return f.Holds.TryClaim(ctx, req)
}

// slowHolds blocks TryClaim until the call's context is done.
type slowHolds struct {
	*memstore.Holds
}

func (s *slowHolds) TryClaim(ctx context.Context, _ repository.ClaimRequest) (*model.SeatHold, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
