package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/trip-seat-reservation/internal/metrics"
	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/utils"
)

const maxCodeAttempts = 5

// TicketService turns confirmed holds into tickets.
type TicketService struct {
	holds   HoldStore
	tickets TicketStore
	catalog TripCatalog
	opts    options
	newCode func() (string, error)
}

// NewTicketService wires ticket issuance.  catalog supplies departure data
// when the caller does not.
func NewTicketService(holds HoldStore, tickets TicketStore, catalog TripCatalog, opts ...Option) *TicketService {
	if holds == nil || tickets == nil {
		panic("nil store passed to NewTicketService")
	}
	return &TicketService{
		holds:   holds,
		tickets: tickets,
		catalog: catalog,
		opts:    buildOptions(opts),
		newCode: utils.NewTicketCode,
	}
}

// IssueForOrder creates one active ticket per confirmed hold of the order
// and returns them in seat order.  Tickets that already exist for an
// (order, trip, seat) triple are returned unchanged, so re-delivery of the
// triggering event issues nothing new.  When dep is nil the departure of
// each hold's trip is read from the catalog.
func (s *TicketService) IssueForOrder(ctx context.Context, orderID string, dep *model.DepartureInfo) ([]model.Ticket, error) {
	hctx, cancel := s.opts.bounded(ctx)
	holds, err := s.holds.HoldsByOrder(hctx, orderID)
	cancel()
	if err != nil {
		return nil, storeErr("holds by order", err)
	}

	departures := map[string]model.DepartureInfo{}
	var out []model.Ticket
	created := 0
	for _, h := range holds {
		if h.Status != model.HoldConfirmed {
			continue
		}
		d, err := s.departure(ctx, h.TripID, dep, departures)
		if err != nil {
			return out, err
		}
		t, isNew, err := s.issueOne(ctx, orderID, h, d)
		if err != nil {
			return out, err
		}
		if isNew {
			created++
		}
		out = append(out, *t)
	}
	if created > 0 {
		s.opts.log.Info("tickets issued", "order_id", orderID, "count", created)
	}
	return out, nil
}

func (s *TicketService) departure(ctx context.Context, tripID string, dep *model.DepartureInfo, known map[string]model.DepartureInfo) (model.DepartureInfo, error) {
	if dep != nil {
		return *dep, nil
	}
	if d, ok := known[tripID]; ok {
		return d, nil
	}
	if s.catalog == nil {
		return model.DepartureInfo{}, fmt.Errorf("no departure data for trip %s: %w", tripID, ErrNotFound)
	}
	tctx, cancel := s.opts.bounded(ctx)
	trip, err := s.catalog.GetTrip(tctx, tripID)
	cancel()
	if err != nil {
		return model.DepartureInfo{}, storeErr("get trip", err)
	}
	known[tripID] = trip.Departure
	return trip.Departure, nil
}

func (s *TicketService) issueOne(ctx context.Context, orderID string, h model.SeatHold, dep model.DepartureInfo) (*model.Ticket, bool, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, false, fmt.Errorf("ticket code: %w", err)
		}
		ictx, cancel := s.opts.bounded(ctx)
		t, created, err := s.tickets.Insert(ictx, model.Ticket{
			OrderID:           orderID,
			TripID:            h.TripID,
			SeatLabel:         h.SeatLabel,
			TicketCode:        code,
			PassengerSnapshot: h.PassengerSnapshot,
			Departure:         dep,
			IssuedAt:          s.opts.clock(),
		})
		cancel()
		switch {
		case err == nil:
			if created {
				metrics.TicketsIssued.Inc()
			}
			return t, created, nil
		case errors.Is(err, ErrConflict):
			s.opts.log.Warn("ticket code collision, drawing again", "order_id", orderID, "seat", h.SeatLabel)
			continue
		default:
			return nil, false, storeErr("insert ticket", err)
		}
	}
	return nil, false, fmt.Errorf("order %s seat %s: no unique ticket code after %d attempts: %w",
		orderID, h.SeatLabel, maxCodeAttempts, ErrUnavailable)
}

// CancelForOrder cancels the order's active tickets.
func (s *TicketService) CancelForOrder(ctx context.Context, orderID string) (int64, error) {
	cctx, cancel := s.opts.bounded(ctx)
	defer cancel()
	n, err := s.tickets.CancelByOrder(cctx, orderID)
	if err != nil {
		return 0, storeErr("cancel tickets", err)
	}
	if n > 0 {
		s.opts.log.Info("tickets cancelled", "order_id", orderID, "count", n)
	}
	return n, nil
}

// CancelForHold cancels the active ticket issued for a confirmed hold.  A
// hold without an order or without a ticket is a no-op.
func (s *TicketService) CancelForHold(ctx context.Context, h model.SeatHold) error {
	if h.HolderOrderID == nil {
		return nil
	}
	cctx, cancel := s.opts.bounded(ctx)
	defer cancel()
	changed, err := s.tickets.CancelByOrderSeat(cctx, *h.HolderOrderID, h.TripID, h.SeatLabel)
	if err != nil {
		return storeErr("cancel ticket", err)
	}
	if changed {
		s.opts.log.Info("ticket cancelled", "order_id", *h.HolderOrderID, "trip_id", h.TripID, "seat", h.SeatLabel)
	}
	return nil
}

// TicketsForOrder lists the tickets of an order.
func (s *TicketService) TicketsForOrder(ctx context.Context, orderID string) ([]model.Ticket, error) {
	lctx, cancel := s.opts.bounded(ctx)
	defer cancel()
	ts, err := s.tickets.ListByOrder(lctx, orderID)
	return ts, storeErr("list tickets", err)
}
