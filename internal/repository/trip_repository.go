package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
)

// TripRepo reads the local mirror of the catalog: trips and their seat
// layout.  The reservation core never writes these tables; they are kept
// in sync by the catalog service.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo constructs a TripRepo given a DB handle.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

// GetTrip loads a trip with its ordered seat labels and passenger schema.
// A trip without a stored schema accepts no passenger fields beyond an
// empty record.
func (r *TripRepo) GetTrip(ctx context.Context, tripID string) (*model.Trip, error) {
	const q = `SELECT id, origin, destination, departs_at, sale_starts_at, sale_ends_at, passenger_schema
	           FROM trips WHERE id = ?`
	var (
		t          model.Trip
		saleStart  sql.NullTime
		saleEnd    sql.NullTime
		schemaJSON []byte
	)
	err := r.db.QueryRowContext(ctx, q, tripID).Scan(
		&t.ID, &t.Departure.Origin, &t.Departure.Destination, &t.Departure.DepartsAt,
		&saleStart, &saleEnd, &schemaJSON,
	)
	if err != nil {
		return nil, classify("get trip "+tripID, err)
	}
	if saleStart.Valid {
		s := saleStart.Time.UTC()
		t.SaleStart = &s
	}
	if saleEnd.Valid {
		e := saleEnd.Time.UTC()
		t.SaleEnd = &e
	}
	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &t.PassengerSchema); err != nil {
			return nil, fmt.Errorf("trip %s passenger schema: %w", tripID, err)
		}
	}

	const seats = `SELECT seat_label FROM trip_seats WHERE trip_id = ? ORDER BY position, seat_label`
	rows, err := r.db.QueryContext(ctx, seats, tripID)
	if err != nil {
		return nil, classify("get trip seats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, classify("get trip seats", err)
		}
		t.SeatLabels = append(t.SeatLabels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get trip seats", err)
	}
	return &t, nil
}

// BlacklistRepo answers identity checks against the blacklist table.
type BlacklistRepo struct {
	db *sql.DB
}

// NewBlacklistRepo constructs a BlacklistRepo.
func NewBlacklistRepo(db *sql.DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

// IsBlacklisted reports whether the normalised identity value is listed.
func (r *BlacklistRepo) IsBlacklisted(ctx context.Context, identity string) (bool, error) {
	const q = `SELECT 1 FROM blacklist WHERE identity_value = ? LIMIT 1`
	var one int
	err := r.db.QueryRowContext(ctx, q, identity).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, classify("blacklist lookup", err)
	}
	return true, nil
}
