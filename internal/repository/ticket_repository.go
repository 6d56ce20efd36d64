package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
)

// TicketRepo persists tickets.  The table carries two unique keys:
// ticket_code, and (order_id, trip_id, seat_label) which makes issuance
// idempotent when the triggering order event is delivered more than once.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, order_id, trip_id, seat_label, ticket_code, passenger_snapshot,
       origin, destination, departs_at, status, issued_at, used_at`

// Insert stores t in active status.  When a ticket for the same order,
// trip and seat already exists, that ticket is returned and created is false.  A
// collision on ticket_code alone surfaces as ErrConflict so the caller
// can draw a new code.
func (r *TicketRepo) Insert(ctx context.Context, t model.Ticket) (stored *model.Ticket, created bool, err error) {
	const q = `INSERT INTO tickets
	           (order_id, trip_id, seat_label, ticket_code, passenger_snapshot, origin, destination, departs_at, status, issued_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)`
	res, err := r.db.ExecContext(ctx, q,
		t.OrderID, t.TripID, t.SeatLabel, t.TicketCode, []byte(t.PassengerSnapshot),
		t.Departure.Origin, t.Departure.Destination, t.Departure.DepartsAt.UTC(), t.IssuedAt.UTC())
	if err != nil {
		if !isDuplicateKey(err) {
			return nil, false, classify("insert ticket", err)
		}
		existing, lookupErr := r.getByOrderSeat(ctx, t.OrderID, t.TripID, t.SeatLabel)
		if lookupErr != nil {
			if errors.Is(lookupErr, ErrNotFound) {
				return nil, false, fmt.Errorf("ticket code collision: %w", ErrConflict)
			}
			return nil, false, lookupErr
		}
		return existing, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, classify("insert ticket", err)
	}
	t.ID = uint64(id)
	t.Status = model.TicketActive
	t.IssuedAt = t.IssuedAt.UTC()
	t.Departure.DepartsAt = t.Departure.DepartsAt.UTC()
	t.UsedAt = nil
	return &t, true, nil
}

// GetByCode returns the ticket with the given code.
func (r *TicketRepo) GetByCode(ctx context.Context, code string) (*model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE ticket_code = ?`
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, code))
	if err != nil {
		return nil, classify("get ticket", err)
	}
	return t, nil
}

// ListByOrder returns the tickets of an order sorted by seat.
func (r *TicketRepo) ListByOrder(ctx context.Context, orderID string) ([]model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE order_id = ? ORDER BY seat_label`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, classify("list tickets", err)
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, classify("list tickets", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list tickets", err)
	}
	return out, nil
}

// Redeem performs the single allowed active to used transition with one
// conditional UPDATE.  It reports whether this call won the transition;
// when it did not, the current row is returned so the caller can tell a
// used ticket from an inactive one.  ErrNotFound means the code is unknown.
func (r *TicketRepo) Redeem(ctx context.Context, code string, at time.Time) (*model.Ticket, bool, error) {
	const q = `UPDATE tickets SET status = 'used', used_at = ?
	           WHERE ticket_code = ? AND status = 'active'`
	res, err := r.db.ExecContext(ctx, q, at.UTC(), code)
	if err != nil {
		return nil, false, classify("redeem ticket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, classify("redeem ticket", err)
	}
	t, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, false, err
	}
	return t, n == 1, nil
}

// CancelByOrder cancels the active tickets of an order.
func (r *TicketRepo) CancelByOrder(ctx context.Context, orderID string) (int64, error) {
	const q = `UPDATE tickets SET status = 'cancelled' WHERE order_id = ? AND status = 'active'`
	res, err := r.db.ExecContext(ctx, q, orderID)
	if err != nil {
		return 0, classify("cancel tickets", err)
	}
	n, err := res.RowsAffected()
	return n, classify("cancel tickets", err)
}

// CancelByOrderSeat cancels the active ticket issued to the order for one
// seat of a trip.  It reports whether a ticket changed state.
func (r *TicketRepo) CancelByOrderSeat(ctx context.Context, orderID, tripID, seat string) (bool, error) {
	const q = `UPDATE tickets SET status = 'cancelled'
	           WHERE order_id = ? AND trip_id = ? AND seat_label = ? AND status = 'active'`
	res, err := r.db.ExecContext(ctx, q, orderID, tripID, seat)
	if err != nil {
		return false, classify("cancel ticket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("cancel ticket", err)
	}
	return n == 1, nil
}

// ExpireDeparted expires active tickets whose departure is before cutoff.
func (r *TicketRepo) ExpireDeparted(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE tickets SET status = 'expired' WHERE status = 'active' AND departs_at < ?`
	res, err := r.db.ExecContext(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, classify("expire tickets", err)
	}
	n, err := res.RowsAffected()
	return n, classify("expire tickets", err)
}

func (r *TicketRepo) getByOrderSeat(ctx context.Context, orderID, tripID, seat string) (*model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE order_id = ? AND trip_id = ? AND seat_label = ?`
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, orderID, tripID, seat))
	if err != nil {
		return nil, classify("get ticket", err)
	}
	return t, nil
}

func scanTicket(s rowScanner) (*model.Ticket, error) {
	var (
		t    model.Ticket
		snap []byte
		used sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.OrderID, &t.TripID, &t.SeatLabel, &t.TicketCode, &snap,
		&t.Departure.Origin, &t.Departure.Destination, &t.Departure.DepartsAt,
		&t.Status, &t.IssuedAt, &used); err != nil {
		return nil, err
	}
	t.PassengerSnapshot = json.RawMessage(snap)
	if used.Valid {
		u := used.Time.UTC()
		t.UsedAt = &u
	}
	return &t, nil
}
