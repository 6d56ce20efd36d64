package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
)

// ClaimRequest carries everything needed to insert one held row.
// ExpiresAt is computed by the caller at claim time and is never derived
// later.
type ClaimRequest struct {
	TripID            string
	SeatLabel         string
	HolderUserID      *string
	HolderToken       string
	PassengerSnapshot json.RawMessage
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// SweepResult reports what a sweep batch moved from held to expired.
type SweepResult struct {
	Expired int64
	TripIDs []string
}

// SeatHoldRepo provides data access to the seat_holds table.  It is the
// seat availability store: the unique index over (trip_id, seat_label,
// active_slot) is what guarantees a single active holder per seat, so
// every claim is one INSERT and never a read followed by a write.  All
// timestamps are written in UTC.
type SeatHoldRepo struct {
	db *sql.DB
}

// NewSeatHoldRepo returns a new SeatHoldRepo bound to the provided database.
func NewSeatHoldRepo(db *sql.DB) *SeatHoldRepo { return &SeatHoldRepo{db: db} }

const holdColumns = `id, trip_id, seat_label, holder_order_id, holder_user_id, holder_token,
       status, created_at, expires_at, passenger_snapshot`

// ListUnavailable returns the labels of seats with a held or confirmed row
// on the trip, sorted.  Two active rows for the same label mean the unique
// index was bypassed, which is reported as ErrInvariantViolation.
func (r *SeatHoldRepo) ListUnavailable(ctx context.Context, tripID string) ([]string, error) {
	const q = `SELECT seat_label FROM seat_holds
	           WHERE trip_id = ? AND status IN ('held','confirmed')
	           ORDER BY seat_label`
	rows, err := r.db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, classify("list unavailable", err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, classify("list unavailable", err)
		}
		if n := len(labels); n > 0 && labels[n-1] == label {
			return nil, fmt.Errorf("trip %s seat %s has two active holds: %w", tripID, label, ErrInvariantViolation)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list unavailable", err)
	}
	return labels, nil
}

// TryClaim inserts a held row for the seat.  A lapsed hold on the same seat
// that the sweeper has not reached yet is expired first with a guarded
// UPDATE, so it does not block the claim.  When another active row exists
// the INSERT fails on the unique index and ErrConflict is returned.
func (r *SeatHoldRepo) TryClaim(ctx context.Context, req ClaimRequest) (*model.SeatHold, error) {
	const lapse = `UPDATE seat_holds SET status = 'expired'
	               WHERE trip_id = ? AND seat_label = ? AND status = 'held' AND expires_at < ?`
	if _, err := r.db.ExecContext(ctx, lapse, req.TripID, req.SeatLabel, req.CreatedAt.UTC()); err != nil {
		return nil, classify("expire lapsed hold", err)
	}

	const ins = `INSERT INTO seat_holds
	             (trip_id, seat_label, holder_user_id, holder_token, status, passenger_snapshot, created_at, expires_at)
	             VALUES (?, ?, ?, ?, 'held', ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, ins,
		req.TripID, req.SeatLabel, nullString(req.HolderUserID), req.HolderToken,
		[]byte(req.PassengerSnapshot), req.CreatedAt.UTC(), req.ExpiresAt.UTC())
	if err != nil {
		return nil, classify("claim seat "+req.SeatLabel, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, classify("claim seat "+req.SeatLabel, err)
	}
	exp := req.ExpiresAt.UTC()
	return &model.SeatHold{
		ID:                uint64(id),
		TripID:            req.TripID,
		SeatLabel:         req.SeatLabel,
		HolderUserID:      req.HolderUserID,
		HolderToken:       req.HolderToken,
		Status:            model.HoldHeld,
		CreatedAt:         req.CreatedAt.UTC(),
		ExpiresAt:         &exp,
		PassengerSnapshot: req.PassengerSnapshot,
	}, nil
}

// ReleaseHolds moves the given held rows to cancelled.  It is the
// compensating action of a failed multi-seat reservation and returns the
// number of rows released.
func (r *SeatHoldRepo) ReleaseHolds(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q := `UPDATE seat_holds SET status = 'cancelled' WHERE status = 'held' AND id IN (` + placeholders(len(ids)) + `)`
	res, err := r.db.ExecContext(ctx, q, uint64Args(ids)...)
	if err != nil {
		return 0, classify("release holds", err)
	}
	n, err := res.RowsAffected()
	return n, classify("release holds", err)
}

// AttachOrder associates orderID with every hold in ids.  The holder token
// must match each hold.  Attaching the same order twice is a no-op; a hold
// already carrying a different order id is an invariant violation.  Holds
// that are no longer held (and not already attached to orderID) yield
// ErrConflict.
func (r *SeatHoldRepo) AttachOrder(ctx context.Context, ids []uint64, holderToken, orderID string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("attach order", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `SELECT id, holder_token, holder_order_id, status FROM seat_holds
	      WHERE id IN (` + placeholders(len(ids)) + `) FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, uint64Args(ids)...)
	if err != nil {
		return classify("attach order", err)
	}
	seen := make(map[uint64]bool, len(ids))
	var pending []uint64
	for rows.Next() {
		var (
			id     uint64
			token  string
			order  sql.NullString
			status model.HoldStatus
		)
		if err := rows.Scan(&id, &token, &order, &status); err != nil {
			rows.Close()
			return classify("attach order", err)
		}
		seen[id] = true
		switch {
		case token != holderToken:
			rows.Close()
			return fmt.Errorf("hold %d: %w", id, ErrForbidden)
		case order.Valid && order.String == orderID:
			// already attached
		case order.Valid:
			rows.Close()
			return fmt.Errorf("hold %d already belongs to order %s, refusing %s: %w",
				id, order.String, orderID, ErrInvariantViolation)
		case status != model.HoldHeld:
			rows.Close()
			return fmt.Errorf("hold %d is %s: %w", id, status, ErrConflict)
		default:
			pending = append(pending, id)
		}
	}
	if err := rows.Close(); err != nil {
		return classify("attach order", err)
	}
	for _, id := range ids {
		if !seen[id] {
			return fmt.Errorf("hold %d: %w", id, ErrNotFound)
		}
	}
	if len(pending) > 0 {
		upd := `UPDATE seat_holds SET holder_order_id = ?
		        WHERE holder_order_id IS NULL AND id IN (` + placeholders(len(pending)) + `)`
		args := append([]interface{}{orderID}, uint64Args(pending)...)
		if _, err := tx.ExecContext(ctx, upd, args...); err != nil {
			return classify("attach order", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("attach order", err)
	}
	committed = true
	return nil
}

// ConfirmByOrder promotes every held row of the order to confirmed and
// clears its lease.  Re-delivery finds no held rows and returns 0.
func (r *SeatHoldRepo) ConfirmByOrder(ctx context.Context, orderID string) (int64, error) {
	const q = `UPDATE seat_holds SET status = 'confirmed', expires_at = NULL
	           WHERE holder_order_id = ? AND status = 'held'`
	return r.execCount(ctx, "confirm order", q, orderID)
}

// CancelByOrder demotes every held or confirmed row of the order to
// cancelled.  Re-delivery finds nothing to change and returns 0.
func (r *SeatHoldRepo) CancelByOrder(ctx context.Context, orderID string) (int64, error) {
	const q = `UPDATE seat_holds SET status = 'cancelled'
	           WHERE holder_order_id = ? AND status IN ('held','confirmed')`
	return r.execCount(ctx, "cancel order", q, orderID)
}

// CancelHold cancels a single held or confirmed row on operator request.
// Cancelling an already cancelled hold succeeds; an expired hold yields
// ErrConflict.
func (r *SeatHoldRepo) CancelHold(ctx context.Context, id uint64) (*model.SeatHold, error) {
	const q = `UPDATE seat_holds SET status = 'cancelled'
	           WHERE id = ? AND status IN ('held','confirmed')`
	if _, err := r.execCount(ctx, "cancel hold", q, id); err != nil {
		return nil, err
	}
	h, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Status != model.HoldCancelled {
		return h, fmt.Errorf("hold %d is %s: %w", id, h.Status, ErrConflict)
	}
	return h, nil
}

// ExpireLapsed moves up to limit held rows whose lease ended before now to
// expired.  Candidate rows are locked with SKIP LOCKED so concurrent
// sweepers split the work; the UPDATE re-checks status so a row promoted
// in the meantime is left alone.
func (r *SeatHoldRepo) ExpireLapsed(ctx context.Context, now time.Time, limit int) (SweepResult, error) {
	var out SweepResult
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return out, classify("sweep", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const sel = `SELECT id, trip_id FROM seat_holds
	             WHERE status = 'held' AND expires_at < ?
	             ORDER BY id LIMIT ? FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, sel, now.UTC(), limit)
	if err != nil {
		return out, classify("sweep", err)
	}
	var ids []uint64
	trips := map[string]bool{}
	for rows.Next() {
		var (
			id   uint64
			trip string
		)
		if err := rows.Scan(&id, &trip); err != nil {
			rows.Close()
			return out, classify("sweep", err)
		}
		ids = append(ids, id)
		if !trips[trip] {
			trips[trip] = true
			out.TripIDs = append(out.TripIDs, trip)
		}
	}
	if err := rows.Close(); err != nil {
		return out, classify("sweep", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	upd := `UPDATE seat_holds SET status = 'expired'
	        WHERE status = 'held' AND id IN (` + placeholders(len(ids)) + `)`
	res, err := tx.ExecContext(ctx, upd, uint64Args(ids)...)
	if err != nil {
		return out, classify("sweep", err)
	}
	if out.Expired, err = res.RowsAffected(); err != nil {
		return out, classify("sweep", err)
	}
	if err := tx.Commit(); err != nil {
		return out, classify("sweep", err)
	}
	committed = true
	return out, nil
}

// PurgeTerminal physically deletes cancelled and expired rows last touched
// before the cutoff.  It is only invoked by operators.
func (r *SeatHoldRepo) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM seat_holds WHERE status IN ('cancelled','expired') AND updated_at < ?`
	return r.execCount(ctx, "purge holds", q, before.UTC())
}

// GetByID returns a single hold.
func (r *SeatHoldRepo) GetByID(ctx context.Context, id uint64) (*model.SeatHold, error) {
	q := `SELECT ` + holdColumns + ` FROM seat_holds WHERE id = ?`
	h, err := scanHold(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, classify(fmt.Sprintf("get hold %d", id), err)
	}
	return h, nil
}

// HoldsByOrder returns every hold attached to the order, ordered by seat.
func (r *SeatHoldRepo) HoldsByOrder(ctx context.Context, orderID string) ([]model.SeatHold, error) {
	q := `SELECT ` + holdColumns + ` FROM seat_holds WHERE holder_order_id = ? ORDER BY seat_label, id`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, classify("holds by order", err)
	}
	defer rows.Close()
	var holds []model.SeatHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, classify("holds by order", err)
		}
		holds = append(holds, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("holds by order", err)
	}
	return holds, nil
}

func (r *SeatHoldRepo) execCount(ctx context.Context, op, q string, args ...interface{}) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHold(s rowScanner) (*model.SeatHold, error) {
	var (
		h       model.SeatHold
		order   sql.NullString
		user    sql.NullString
		expires sql.NullTime
		snap    []byte
	)
	if err := s.Scan(&h.ID, &h.TripID, &h.SeatLabel, &order, &user, &h.HolderToken,
		&h.Status, &h.CreatedAt, &expires, &snap); err != nil {
		return nil, err
	}
	if order.Valid {
		h.HolderOrderID = &order.String
	}
	if user.Valid {
		h.HolderUserID = &user.String
	}
	if expires.Valid {
		t := expires.Time.UTC()
		h.ExpiresAt = &t
	}
	h.PassengerSnapshot = json.RawMessage(snap)
	return &h, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func uint64Args(ids []uint64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
