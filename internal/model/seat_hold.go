package model

import (
	"encoding/json"
	"time"
)

// HoldStatus is the lifecycle state of a SeatHold row.
type HoldStatus string

const (
	HoldHeld      HoldStatus = "held"
	HoldConfirmed HoldStatus = "confirmed"
	HoldCancelled HoldStatus = "cancelled"
	HoldExpired   HoldStatus = "expired"
)

// Active reports whether the status occupies the seat.  At most one row per
// (trip, seat) may be active at any instant.
func (s HoldStatus) Active() bool {
	return s == HoldHeld || s == HoldConfirmed
}

// Terminal reports whether the status can no longer change.  Confirmed rows
// may still move to cancelled, so only cancelled and expired are terminal.
func (s HoldStatus) Terminal() bool {
	return s == HoldCancelled || s == HoldExpired
}

// SeatHold represents a provisional or confirmed claim on one seat of one
// trip.  A hold is created in the held state with a lease; an order is
// attached to it later and order status events promote or demote it.
// Rows are never reused: a fresh reservation attempt creates a new row.
//
// Fields:
//
//	ID                – primary key identifier.
//	TripID            – trip the seat belongs to.
//	SeatLabel         – seat label as published by the catalog (e.g. "12B").
//	HolderOrderID     – order the hold belongs to; set once, never changed.
//	HolderUserID      – optional requester identity.
//	HolderToken       – opaque token returned at reserve time and presented
//	                    again when the order is attached.
//	Status            – held, confirmed, cancelled or expired.
//	CreatedAt         – creation timestamp.
//	ExpiresAt         – lease end; nil once confirmed.
//	PassengerSnapshot – passenger data captured at hold time.
type SeatHold struct {
	ID                uint64          `json:"id"`
	TripID            string          `json:"trip_id"`
	SeatLabel         string          `json:"seat_label"`
	HolderOrderID     *string         `json:"holder_order_id,omitempty"`
	HolderUserID      *string         `json:"holder_user_id,omitempty"`
	HolderToken       string          `json:"-"`
	Status            HoldStatus      `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	PassengerSnapshot json.RawMessage `json:"passenger_snapshot,omitempty"`
}
