// Package service holds the reservation core: the reservation engine, the
// expiry sweeper, ticket issuance and the validation gateway.  All
// collaborators are passed in through constructors; the MySQL stores in
// internal/repository and the in-process ones in internal/repository/memstore
// both satisfy the interfaces below.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
)

// HoldStore is the seat availability store.  TryClaim is the only
// operation that decides whether a seat is taken.
type HoldStore interface {
	ListUnavailable(ctx context.Context, tripID string) ([]string, error)
	TryClaim(ctx context.Context, req repository.ClaimRequest) (*model.SeatHold, error)
	ReleaseHolds(ctx context.Context, ids []uint64) (int64, error)
	AttachOrder(ctx context.Context, ids []uint64, holderToken, orderID string) error
	ConfirmByOrder(ctx context.Context, orderID string) (int64, error)
	CancelByOrder(ctx context.Context, orderID string) (int64, error)
	CancelHold(ctx context.Context, id uint64) (*model.SeatHold, error)
	ExpireLapsed(ctx context.Context, now time.Time, limit int) (repository.SweepResult, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
	GetByID(ctx context.Context, id uint64) (*model.SeatHold, error)
	HoldsByOrder(ctx context.Context, orderID string) ([]model.SeatHold, error)
}

// TicketStore persists tickets.
type TicketStore interface {
	Insert(ctx context.Context, t model.Ticket) (*model.Ticket, bool, error)
	GetByCode(ctx context.Context, code string) (*model.Ticket, error)
	ListByOrder(ctx context.Context, orderID string) ([]model.Ticket, error)
	Redeem(ctx context.Context, code string, at time.Time) (*model.Ticket, bool, error)
	CancelByOrder(ctx context.Context, orderID string) (int64, error)
	CancelByOrderSeat(ctx context.Context, orderID, tripID, seat string) (bool, error)
	ExpireDeparted(ctx context.Context, cutoff time.Time) (int64, error)
}

// TripCatalog supplies seat layouts, sale windows, departure data and the
// passenger schema of a trip.
type TripCatalog interface {
	GetTrip(ctx context.Context, tripID string) (*model.Trip, error)
}

// Blacklist answers whether a normalised identity value may travel.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, identity string) (bool, error)
}

// AvailabilityCache is the display cache of unavailable seats.
type AvailabilityCache interface {
	Get(ctx context.Context, tripID string) ([]string, bool)
	Set(ctx context.Context, tripID string, labels []string)
	Invalidate(ctx context.Context, tripIDs ...string)
}

// EventPublisher delivers notification events.  Failures are reported but
// never undo the state change that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, queueName string, event any) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]string, bool) { return nil, false }
func (noopCache) Set(context.Context, string, []string)        {}
func (noopCache) Invalidate(context.Context, ...string)        {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }
