package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/metrics"
	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/queue"
)

// RedeemOutcome is the answer a gate scanner gets for a code.
type RedeemOutcome string

const (
	RedeemSuccess     RedeemOutcome = "success"
	RedeemAlreadyUsed RedeemOutcome = "already_used"
	RedeemNotActive   RedeemOutcome = "not_active"
	RedeemNotFound    RedeemOutcome = "not_found"
)

// ValidationService is the check-in gateway.
type ValidationService struct {
	tickets   TicketStore
	publisher EventPublisher
	opts      options
}

// NewValidationService wires the gateway.  publisher may be nil.
func NewValidationService(tickets TicketStore, publisher EventPublisher, opts ...Option) *ValidationService {
	if tickets == nil {
		panic("nil ticket store passed to NewValidationService")
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ValidationService{tickets: tickets, publisher: publisher, opts: buildOptions(opts)}
}

func normalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Lookup returns the ticket with code, or ErrNotFound.
func (s *ValidationService) Lookup(ctx context.Context, code string) (*model.Ticket, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	lctx, cancel := s.opts.bounded(ctx)
	defer cancel()
	t, err := s.tickets.GetByCode(lctx, code)
	return t, storeErr("lookup ticket", err)
}

// Redeem performs the active to used transition.  Of any number of
// concurrent calls for one code exactly one gets RedeemSuccess; the others
// see RedeemAlreadyUsed.  The error is non-nil only for store failures.
func (s *ValidationService) Redeem(ctx context.Context, code string) (RedeemOutcome, *model.Ticket, error) {
	code = normalizeCode(code)
	if code == "" {
		metrics.Redemptions.WithLabelValues(string(RedeemNotFound)).Inc()
		return RedeemNotFound, nil, nil
	}
	rctx, cancel := s.opts.bounded(ctx)
	t, won, err := s.tickets.Redeem(rctx, code, s.opts.clock())
	cancel()
	if errors.Is(err, ErrNotFound) {
		metrics.Redemptions.WithLabelValues(string(RedeemNotFound)).Inc()
		return RedeemNotFound, nil, nil
	}
	if err != nil {
		metrics.Redemptions.WithLabelValues("error").Inc()
		return "", nil, storeErr("redeem ticket", err)
	}

	out := RedeemNotActive
	switch {
	case won:
		out = RedeemSuccess
		s.announce(ctx, t)
	case t.Status == model.TicketUsed:
		out = RedeemAlreadyUsed
	}
	metrics.Redemptions.WithLabelValues(string(out)).Inc()
	s.opts.log.Info("ticket redeem", "outcome", out, "order_id", t.OrderID, "seat", t.SeatLabel)
	return out, t, nil
}

func (s *ValidationService) announce(ctx context.Context, t *model.Ticket) {
	var usedAt string
	if t.UsedAt != nil {
		usedAt = t.UsedAt.Format(time.RFC3339)
	}
	pctx, cancel := s.opts.detached(ctx)
	defer cancel()
	if err := s.publisher.Publish(pctx, queue.TicketUsedQueue, queue.TicketUsedEvent{
		TicketCode: t.TicketCode,
		OrderID:    t.OrderID,
		TripID:     t.TripID,
		SeatLabel:  t.SeatLabel,
		Passenger:  t.PassengerSnapshot,
		UsedAt:     usedAt,
	}); err != nil {
		s.opts.log.Warn("notification not sent", "queue", queue.TicketUsedQueue, "err", err)
	}
}
