package model

import "time"

// Trip is the catalog view of a scheduled trip.  It is read-only to the
// reservation core.  SeatLabels preserves the catalog order; labels are
// strings and need not be numeric.  A nil SaleStart or SaleEnd leaves
// that side of the sale window open.
type Trip struct {
	ID              string
	SeatLabels      []string
	SaleStart       *time.Time
	SaleEnd         *time.Time
	Departure       DepartureInfo
	PassengerSchema PassengerSchema
}

// OnSale reports whether the trip can be sold at the given instant.
func (t Trip) OnSale(now time.Time) bool {
	if t.SaleStart != nil && now.Before(*t.SaleStart) {
		return false
	}
	if t.SaleEnd != nil && !now.Before(*t.SaleEnd) {
		return false
	}
	return true
}

// HasSeat reports whether label is part of the trip's seat layout.
func (t Trip) HasSeat(label string) bool {
	for _, l := range t.SeatLabels {
		if l == label {
			return true
		}
	}
	return false
}
