// Package queue defines message payloads exchanged over the message broker
// and the RabbitMQ publisher and consumer that carry them.
package queue

import "encoding/json"

// Queue names.  Every queue is durable and addressed through the default
// exchange, so the routing key is the queue name.
const (
	ReservationConfirmedQueue = "reservation.confirmed"
	ReservationCancelledQueue = "reservation.cancelled"
	TicketUsedQueue           = "ticket.used"
	OrderStatusChangedQueue   = "order.status.changed"
)

// SeatRef identifies one seat of an order in outgoing events.
type SeatRef struct {
	HoldID    uint64          `json:"hold_id"`
	TripID    string          `json:"trip_id"`
	SeatLabel string          `json:"seat_label"`
	Passenger json.RawMessage `json:"passenger,omitempty"`
}

// ReservationConfirmedEvent is published when the held seats of an order
// are promoted to confirmed.  It is sent once per promotion, not per
// delivery of the triggering order event.
type ReservationConfirmedEvent struct {
	OrderID     string    `json:"order_id"`
	Seats       []SeatRef `json:"seats"`
	ConfirmedAt string    `json:"confirmed_at"`
}

// ReservationCancelledEvent is published when an order's seats are
// released.  Reason carries the order status that caused it, or "manual".
type ReservationCancelledEvent struct {
	OrderID     string    `json:"order_id,omitempty"`
	Seats       []SeatRef `json:"seats"`
	Reason      string    `json:"reason"`
	CancelledAt string    `json:"cancelled_at"`
}

// TicketUsedEvent is published after a successful redemption.
type TicketUsedEvent struct {
	TicketCode string          `json:"ticket_code"`
	OrderID    string          `json:"order_id"`
	TripID     string          `json:"trip_id"`
	SeatLabel  string          `json:"seat_label"`
	Passenger  json.RawMessage `json:"passenger,omitempty"`
	UsedAt     string          `json:"used_at"`
}

// OrderStatusChangedEvent is consumed from the order service.
type OrderStatusChangedEvent struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}
