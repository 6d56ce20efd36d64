package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
)

type orderSeat struct {
	order string
	trip  string
	seat  string
}

// Tickets is the in-memory ticket store.
type Tickets struct {
	mu      sync.Mutex
	nextID  uint64
	byCode  map[string]*model.Ticket
	byOrder map[orderSeat]*model.Ticket
}

// NewTickets returns an empty ticket store.
func NewTickets() *Tickets {
	return &Tickets{
		byCode:  map[string]*model.Ticket{},
		byOrder: map[orderSeat]*model.Ticket{},
	}
}

func copyTicket(t *model.Ticket) *model.Ticket {
	out := *t
	if t.UsedAt != nil {
		u := *t.UsedAt
		out.UsedAt = &u
	}
	return &out
}

// Insert stores t as active, or returns the ticket the order already holds
// for the same trip and seat with created false.
func (s *Tickets) Insert(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error) {
	if err := ctxErr(ctx, "insert ticket"); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byOrder[orderSeat{t.OrderID, t.TripID, t.SeatLabel}]; ok {
		return copyTicket(existing), false, nil
	}
	if _, ok := s.byCode[t.TicketCode]; ok {
		return nil, false, fmt.Errorf("ticket code collision: %w", repository.ErrConflict)
	}
	s.nextID++
	t.ID = s.nextID
	t.Status = model.TicketActive
	t.IssuedAt = t.IssuedAt.UTC()
	t.UsedAt = nil
	stored := &t
	s.byCode[t.TicketCode] = stored
	s.byOrder[orderSeat{t.OrderID, t.TripID, t.SeatLabel}] = stored
	return copyTicket(stored), true, nil
}

// GetByCode returns the ticket with the given code.
func (s *Tickets) GetByCode(ctx context.Context, code string) (*model.Ticket, error) {
	if err := ctxErr(ctx, "get ticket"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byCode[code]
	if !ok {
		return nil, fmt.Errorf("get ticket: %w", repository.ErrNotFound)
	}
	return copyTicket(t), nil
}

// ListByOrder returns the tickets of an order sorted by seat.
func (s *Tickets) ListByOrder(ctx context.Context, orderID string) ([]model.Ticket, error) {
	if err := ctxErr(ctx, "list tickets"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for k, t := range s.byOrder {
		if k.order == orderID {
			out = append(out, *copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].SeatLabel, out[j].SeatLabel) < 0 })
	return out, nil
}

// Redeem moves an active ticket to used and reports whether this call did.
func (s *Tickets) Redeem(ctx context.Context, code string, at time.Time) (*model.Ticket, bool, error) {
	if err := ctxErr(ctx, "redeem ticket"); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byCode[code]
	if !ok {
		return nil, false, fmt.Errorf("get ticket: %w", repository.ErrNotFound)
	}
	if t.Status != model.TicketActive {
		return copyTicket(t), false, nil
	}
	used := at.UTC()
	t.Status = model.TicketUsed
	t.UsedAt = &used
	return copyTicket(t), true, nil
}

// CancelByOrder cancels the active tickets of an order.
func (s *Tickets) CancelByOrder(ctx context.Context, orderID string) (int64, error) {
	if err := ctxErr(ctx, "cancel tickets"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.byOrder {
		if k.order == orderID && t.Status == model.TicketActive {
			t.Status = model.TicketCancelled
			n++
		}
	}
	return n, nil
}

// CancelByOrderSeat cancels the order's active ticket for one seat of a trip.
func (s *Tickets) CancelByOrderSeat(ctx context.Context, orderID, tripID, seat string) (bool, error) {
	if err := ctxErr(ctx, "cancel ticket"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byOrder[orderSeat{orderID, tripID, seat}]
	if !ok || t.Status != model.TicketActive {
		return false, nil
	}
	t.Status = model.TicketCancelled
	return true, nil
}

// ExpireDeparted expires active tickets departing before cutoff.
func (s *Tickets) ExpireDeparted(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctxErr(ctx, "expire tickets"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.byCode {
		if t.Status == model.TicketActive && t.Departure.DepartsAt.Before(cutoff) {
			t.Status = model.TicketExpired
			n++
		}
	}
	return n, nil
}
