package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/metrics"
	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/queue"
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
	"github.com/iliyamo/trip-seat-reservation/internal/utils"
)

// TicketIssuer is the part of TicketService the engine drives.
type TicketIssuer interface {
	IssueForOrder(ctx context.Context, orderID string, dep *model.DepartureInfo) ([]model.Ticket, error)
	CancelForOrder(ctx context.Context, orderID string) (int64, error)
	CancelForHold(ctx context.Context, h model.SeatHold) error
}

// ReservationDeps are the collaborators of the engine.  Holds and Catalog
// are required; a nil Blacklist checks nothing, a nil Cache caches nothing,
// a nil Publisher sends nothing and a nil Tickets issues nothing.
type ReservationDeps struct {
	Holds     HoldStore
	Catalog   TripCatalog
	Blacklist Blacklist
	Cache     AvailabilityCache
	Publisher EventPublisher
	Tickets   TicketIssuer
}

// ReservationService is the reservation engine.
type ReservationService struct {
	holds     HoldStore
	catalog   TripCatalog
	blacklist Blacklist
	cache     AvailabilityCache
	publisher EventPublisher
	tickets   TicketIssuer
	opts      options
}

// NewReservationService wires the engine.  It panics when a required
// collaborator is missing.
func NewReservationService(d ReservationDeps, opts ...Option) *ReservationService {
	if d.Holds == nil || d.Catalog == nil {
		panic("nil hold store or catalog passed to NewReservationService")
	}
	s := &ReservationService{
		holds:     d.Holds,
		catalog:   d.Catalog,
		blacklist: d.Blacklist,
		cache:     d.Cache,
		publisher: d.Publisher,
		tickets:   d.Tickets,
		opts:      buildOptions(opts),
	}
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	return s
}

// ReserveRequest asks for len(SeatLabels) seats on one trip.  Passengers
// pair with SeatLabels by index.
type ReserveRequest struct {
	TripID       string
	SeatLabels   []string
	Passengers   []model.Passenger
	HolderUserID *string
}

// ReservationResult is returned by a successful Reserve.  HolderToken must
// be presented to AttachOrder.
type ReservationResult struct {
	TripID      string           `json:"trip_id"`
	HoldIDs     []uint64         `json:"hold_ids"`
	Holds       []model.SeatHold `json:"holds"`
	HolderToken string           `json:"holder_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

type seatClaim struct {
	label    string
	snapshot json.RawMessage
}

// Reserve claims every requested seat or none.  Seats are claimed one
// atomic insert at a time in lexicographic label order; on the first
// conflict or store failure every hold already taken by this call is
// cancelled before returning.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*ReservationResult, error) {
	res, err := s.reserve(ctx, req)
	metrics.Reservations.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (s *ReservationService) reserve(ctx context.Context, req ReserveRequest) (*ReservationResult, error) {
	if req.TripID == "" {
		return nil, invalid("trip id is required")
	}
	if len(req.SeatLabels) == 0 {
		return nil, invalid("at least one seat is required")
	}
	if len(req.SeatLabels) != len(req.Passengers) {
		return nil, invalid("%d seats requested for %d passengers", len(req.SeatLabels), len(req.Passengers))
	}

	tctx, cancel := s.opts.bounded(ctx)
	trip, err := s.catalog.GetTrip(tctx, req.TripID)
	cancel()
	if err != nil {
		return nil, storeErr("get trip", err)
	}
	now := s.opts.clock()
	if !trip.OnSale(now) {
		return nil, fmt.Errorf("trip %s: %w", trip.ID, ErrTripNotSellable)
	}

	seen := make(map[string]bool, len(req.SeatLabels))
	for _, label := range req.SeatLabels {
		if seen[label] {
			return nil, &ConflictError{Reason: ReasonDuplicateSeat, SeatLabel: label}
		}
		seen[label] = true
	}
	for _, label := range req.SeatLabels {
		if !trip.HasSeat(label) {
			return nil, invalid("seat %q is not on trip %s", label, trip.ID)
		}
	}

	schema := trip.PassengerSchema
	claims := make([]seatClaim, len(req.SeatLabels))
	identities := make([]string, len(req.SeatLabels))
	owner := map[string]bool{}
	for i, p := range req.Passengers {
		clean, err := schema.Validate(p)
		if err != nil {
			return nil, invalid("passenger %d: %v", i+1, err)
		}
		if id := schema.Identity(clean); id != "" {
			if owner[id] {
				return nil, &ConflictError{Reason: ReasonDuplicateIdentity, SeatLabel: req.SeatLabels[i], Value: id}
			}
			owner[id] = true
			identities[i] = id
		}
		snap, err := schema.Snapshot(clean)
		if err != nil {
			return nil, fmt.Errorf("passenger %d snapshot: %w", i+1, err)
		}
		claims[i] = seatClaim{label: req.SeatLabels[i], snapshot: snap}
	}
	if err := s.checkBlacklist(ctx, identities, req.SeatLabels); err != nil {
		return nil, err
	}

	sort.Slice(claims, func(i, j int) bool { return claims[i].label < claims[j].label })

	token, err := utils.NewHolderToken()
	if err != nil {
		return nil, fmt.Errorf("holder token: %w", err)
	}
	expires := now.Add(s.opts.holdTTL)

	held := make([]model.SeatHold, 0, len(claims))
	for _, c := range claims {
		cctx, cancel := s.opts.bounded(ctx)
		h, err := s.holds.TryClaim(cctx, repository.ClaimRequest{
			TripID:            trip.ID,
			SeatLabel:         c.label,
			HolderUserID:      req.HolderUserID,
			HolderToken:       token,
			PassengerSnapshot: c.snapshot,
			CreatedAt:         now,
			ExpiresAt:         expires,
		})
		cancel()
		if err != nil {
			s.compensate(ctx, trip.ID, held)
			if errors.Is(err, ErrConflict) {
				metrics.SeatClaims.WithLabelValues("conflict").Inc()
				return nil, &ConflictError{Reason: ReasonSeatTaken, SeatLabel: c.label}
			}
			metrics.SeatClaims.WithLabelValues("error").Inc()
			s.opts.log.Warn("seat claim failed", "trip_id", trip.ID, "seat", c.label, "err", err)
			return nil, storeErr("claim seat "+c.label, err)
		}
		metrics.SeatClaims.WithLabelValues("ok").Inc()
		held = append(held, *h)
	}
	s.cache.Invalidate(ctx, trip.ID)

	ids := make([]uint64, len(held))
	for i, h := range held {
		ids[i] = h.ID
	}
	s.opts.log.Info("seats held", "trip_id", trip.ID, "hold_ids", ids, "expires_at", expires)
	return &ReservationResult{
		TripID:      trip.ID,
		HoldIDs:     ids,
		Holds:       held,
		HolderToken: token,
		ExpiresAt:   expires,
	}, nil
}

func (s *ReservationService) checkBlacklist(ctx context.Context, identities, seats []string) error {
	if s.blacklist == nil {
		return nil
	}
	for i, id := range identities {
		if id == "" {
			continue
		}
		bctx, cancel := s.opts.bounded(ctx)
		listed, err := s.blacklist.IsBlacklisted(bctx, id)
		cancel()
		if err != nil {
			return storeErr("blacklist lookup", err)
		}
		if listed {
			return &ConflictError{Reason: ReasonBlacklisted, SeatLabel: seats[i], Value: id}
		}
	}
	return nil
}

// compensate cancels the holds taken by a failed Reserve.  It runs on a
// detached context so the rollback happens even if the caller went away.
// Holds it cannot release stay held until their lease lapses.
func (s *ReservationService) compensate(ctx context.Context, tripID string, held []model.SeatHold) {
	if len(held) == 0 {
		return
	}
	ids := make([]uint64, len(held))
	for i, h := range held {
		ids[i] = h.ID
	}
	cctx, cancel := s.opts.detached(ctx)
	defer cancel()
	n, err := s.holds.ReleaseHolds(cctx, ids)
	metrics.Compensations.Add(float64(n))
	if err != nil {
		s.opts.log.Error("compensation failed, holds will lapse at expiry",
			"trip_id", tripID, "hold_ids", ids, "err", err)
	}
	s.cache.Invalidate(cctx, tripID)
}

// AttachOrder records orderID on the holds.  The holder token returned by
// Reserve must match.  Repeating the call with the same order is a no-op.
func (s *ReservationService) AttachOrder(ctx context.Context, holdIDs []uint64, holderToken, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || holderToken == "" || len(holdIDs) == 0 {
		return invalid("hold ids, holder token and order id are required")
	}
	actx, cancel := s.opts.bounded(ctx)
	defer cancel()
	err := s.holds.AttachOrder(actx, holdIDs, holderToken, orderID)
	switch {
	case err == nil:
		s.opts.log.Info("order attached", "order_id", orderID, "hold_ids", holdIDs)
		return nil
	case errors.Is(err, repository.ErrForbidden):
		return fmt.Errorf("attach order %s: %w", orderID, ErrHolderMismatch)
	case errors.Is(err, ErrInvariantViolation):
		metrics.InvariantViolations.Inc()
		s.opts.log.Error("attach order refused", "order_id", orderID, "hold_ids", holdIDs, "err", err)
		return err
	}
	return storeErr("attach order", err)
}

// Order statuses understood by OnOrderStatusChanged.
const (
	OrderCompleted  = "completed"
	OrderProcessing = "processing"
	OrderCancelled  = "cancelled"
	OrderRefunded   = "refunded"
	OrderFailed     = "failed"
)

// OnOrderStatusChanged applies an order status transition to the order's
// holds.  Confirmation and cancellation are status overwrites guarded on
// the current status, so a repeated delivery changes nothing and sends no
// second notification.  Ticket issuance is idempotent per seat and runs on
// every completed delivery.
func (s *ReservationService) OnOrderStatusChanged(ctx context.Context, ev queue.OrderStatusChangedEvent) error {
	orderID := strings.TrimSpace(ev.OrderID)
	if orderID == "" {
		return invalid("order id is required")
	}
	status := strings.ToLower(strings.TrimSpace(ev.NewStatus))
	switch status {
	case OrderCompleted, OrderProcessing:
		metrics.OrderEvents.WithLabelValues(status).Inc()
		return s.confirmOrder(ctx, orderID, status)
	case OrderCancelled, OrderRefunded, OrderFailed:
		metrics.OrderEvents.WithLabelValues(status).Inc()
		return s.cancelOrder(ctx, orderID, status)
	default:
		metrics.OrderEvents.WithLabelValues("ignored").Inc()
		s.opts.log.Debug("order status ignored", "order_id", orderID, "status", ev.NewStatus)
		return nil
	}
}

func (s *ReservationService) confirmOrder(ctx context.Context, orderID, status string) error {
	cctx, cancel := s.opts.bounded(ctx)
	n, err := s.holds.ConfirmByOrder(cctx, orderID)
	cancel()
	if err != nil {
		return storeErr("confirm order", err)
	}
	if n > 0 {
		holds := s.orderHolds(ctx, orderID, model.HoldConfirmed)
		s.cache.Invalidate(ctx, tripIDs(holds)...)
		s.publish(ctx, queue.ReservationConfirmedQueue, queue.ReservationConfirmedEvent{
			OrderID:     orderID,
			Seats:       seatRefs(holds),
			ConfirmedAt: s.opts.clock().Format(time.RFC3339),
		})
		s.opts.log.Info("order confirmed", "order_id", orderID, "status", status, "holds", n)
	} else {
		all, err := s.OrderHolds(ctx, orderID)
		if err != nil {
			return err
		}
		if !anyConfirmed(all) {
			metrics.OrdersWithoutSeats.Inc()
			s.opts.log.Warn("paid order has no seats to confirm", "order_id", orderID, "status", status, "holds", len(all))
			return nil
		}
	}

	if s.tickets == nil || (status == OrderProcessing && !s.opts.issueOnProcessing) {
		return nil
	}
	if _, err := s.tickets.IssueForOrder(ctx, orderID, nil); err != nil {
		return fmt.Errorf("issue tickets for order %s: %w", orderID, err)
	}
	return nil
}

func (s *ReservationService) cancelOrder(ctx context.Context, orderID, status string) error {
	cctx, cancel := s.opts.bounded(ctx)
	n, err := s.holds.CancelByOrder(cctx, orderID)
	cancel()
	if err != nil {
		return storeErr("cancel order", err)
	}
	if s.tickets != nil {
		if _, err := s.tickets.CancelForOrder(ctx, orderID); err != nil {
			return fmt.Errorf("cancel tickets for order %s: %w", orderID, err)
		}
	}
	if n > 0 {
		holds := s.orderHolds(ctx, orderID, model.HoldCancelled)
		s.cache.Invalidate(ctx, tripIDs(holds)...)
		s.publish(ctx, queue.ReservationCancelledQueue, queue.ReservationCancelledEvent{
			OrderID:     orderID,
			Seats:       seatRefs(holds),
			Reason:      status,
			CancelledAt: s.opts.clock().Format(time.RFC3339),
		})
		s.opts.log.Info("order cancelled", "order_id", orderID, "status", status, "holds", n)
	}
	return nil
}

// CancelHold cancels one hold on operator request.  Cancelling a cancelled
// hold succeeds without a second notification; an expired hold is a
// conflict.  When the hold was confirmed its ticket is cancelled too, so
// the freed seat cannot be boarded on the old ticket.
func (s *ReservationService) CancelHold(ctx context.Context, holdID uint64) (*model.SeatHold, error) {
	gctx, cancel := s.opts.bounded(ctx)
	before, err := s.holds.GetByID(gctx, holdID)
	cancel()
	if err != nil {
		return nil, storeErr("get hold", err)
	}
	if before.Status == model.HoldCancelled {
		return before, nil
	}

	cctx, cancel := s.opts.bounded(ctx)
	h, err := s.holds.CancelHold(cctx, holdID)
	cancel()
	if err != nil {
		return h, storeErr("cancel hold", err)
	}
	s.cache.Invalidate(ctx, h.TripID)
	if before.Status == model.HoldConfirmed && s.tickets != nil {
		if err := s.tickets.CancelForHold(ctx, *h); err != nil {
			return h, fmt.Errorf("cancel ticket for hold %d: %w", holdID, err)
		}
	}
	ev := queue.ReservationCancelledEvent{
		Seats:       seatRefs([]model.SeatHold{*h}),
		Reason:      "manual",
		CancelledAt: s.opts.clock().Format(time.RFC3339),
	}
	if h.HolderOrderID != nil {
		ev.OrderID = *h.HolderOrderID
	}
	s.publish(ctx, queue.ReservationCancelledQueue, ev)
	s.opts.log.Info("hold cancelled", "hold_id", holdID, "trip_id", h.TripID, "seat", h.SeatLabel)
	return h, nil
}

// ListUnavailable returns the held and confirmed seat labels of a trip for
// display.  The answer may come from the cache and can trail the store by
// at most the cache TTL when an invalidation is lost; Reserve never
// consults it.
func (s *ReservationService) ListUnavailable(ctx context.Context, tripID string) ([]string, error) {
	if labels, ok := s.cache.Get(ctx, tripID); ok {
		return labels, nil
	}
	lctx, cancel := s.opts.bounded(ctx)
	labels, err := s.holds.ListUnavailable(lctx, tripID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			metrics.InvariantViolations.Inc()
			s.opts.log.Error("availability check found a double holder", "trip_id", tripID, "err", err)
		}
		return nil, storeErr("list unavailable", err)
	}
	s.cache.Set(ctx, tripID, labels)
	return labels, nil
}

// OrderHolds returns every hold attached to an order.
func (s *ReservationService) OrderHolds(ctx context.Context, orderID string) ([]model.SeatHold, error) {
	hctx, cancel := s.opts.bounded(ctx)
	defer cancel()
	holds, err := s.holds.HoldsByOrder(hctx, orderID)
	return holds, storeErr("holds by order", err)
}

// PurgeTerminal deletes cancelled and expired holds untouched for longer
// than olderThan.
func (s *ReservationService) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, invalid("retention must be positive")
	}
	pctx, cancel := s.opts.bounded(ctx)
	defer cancel()
	n, err := s.holds.PurgeTerminal(pctx, s.opts.clock().Add(-olderThan))
	if err != nil {
		return 0, storeErr("purge holds", err)
	}
	s.opts.log.Info("terminal holds purged", "count", n, "older_than", olderThan)
	return n, nil
}

func (s *ReservationService) orderHolds(ctx context.Context, orderID string, status model.HoldStatus) []model.SeatHold {
	all, err := s.OrderHolds(ctx, orderID)
	if err != nil {
		s.opts.log.Warn("could not load order holds for notification", "order_id", orderID, "err", err)
		return nil
	}
	out := all[:0]
	for _, h := range all {
		if h.Status == status {
			out = append(out, h)
		}
	}
	return out
}

func (s *ReservationService) publish(ctx context.Context, queueName string, event any) {
	pctx, cancel := s.opts.detached(ctx)
	defer cancel()
	if err := s.publisher.Publish(pctx, queueName, event); err != nil {
		s.opts.log.Warn("notification not sent", "queue", queueName, "err", err)
	}
}

func anyConfirmed(holds []model.SeatHold) bool {
	for _, h := range holds {
		if h.Status == model.HoldConfirmed {
			return true
		}
	}
	return false
}

func seatRefs(holds []model.SeatHold) []queue.SeatRef {
	out := make([]queue.SeatRef, len(holds))
	for i, h := range holds {
		out[i] = queue.SeatRef{HoldID: h.ID, TripID: h.TripID, SeatLabel: h.SeatLabel, Passenger: h.PassengerSnapshot}
	}
	return out
}

func tripIDs(holds []model.SeatHold) []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range holds {
		if !seen[h.TripID] {
			seen[h.TripID] = true
			out = append(out, h.TripID)
		}
	}
	return out
}

func outcome(err error) string {
	var ce *ConflictError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ce):
		return string(ce.Reason)
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTripNotSellable):
		return "not_sellable"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "error"
}
