package model

import (
	"encoding/json"
	"time"
)

// TicketStatus is the lifecycle state of a Ticket.
type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// DepartureInfo is the trip data copied onto a ticket at issuance time so
// the ticket stays readable even if the catalog changes afterwards.
type DepartureInfo struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	DepartsAt   time.Time `json:"departs_at"`
}

// Ticket is the redeemable proof of one confirmed seat for one passenger.
// TicketCode is random and globally unique; it is the only value a gate
// scanner needs.  UsedAt is set exactly once, on the active to used
// transition.
type Ticket struct {
	ID                uint64          `json:"id"`
	OrderID           string          `json:"order_id"`
	TripID            string          `json:"trip_id"`
	SeatLabel         string          `json:"seat_label"`
	TicketCode        string          `json:"ticket_code"`
	PassengerSnapshot json.RawMessage `json:"passenger_snapshot"`
	Departure         DepartureInfo   `json:"departure"`
	Status            TicketStatus    `json:"status"`
	IssuedAt          time.Time       `json:"issued_at"`
	UsedAt            *time.Time      `json:"used_at,omitempty"`
}
