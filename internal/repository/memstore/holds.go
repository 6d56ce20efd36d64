// Package memstore holds in-process implementations of the repository
// stores.  They follow the MySQL stores statement for statement: an active
// seat index plays the role of uq_seat_holds_active and every method
// returns the same sentinel errors.  They back STORE_DRIVER=memory and the
// service tests; the state lives in one process only.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
)

type seatKey struct {
	trip  string
	label string
}

type holdRow struct {
	hold      model.SeatHold
	updatedAt time.Time
}

// Holds is the in-memory seat availability store.
type Holds struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]*holdRow
	active map[seatKey]uint64
	now    func() time.Time
}

// NewHolds returns an empty store.
func NewHolds() *Holds {
	return &Holds{
		rows:   map[uint64]*holdRow{},
		active: map[seatKey]uint64{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func ctxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, repository.ErrUnavailable, err)
	}
	return nil
}

func (s *Holds) setStatus(r *holdRow, st model.HoldStatus) {
	if r.hold.Status.Active() && !st.Active() {
		delete(s.active, seatKey{r.hold.TripID, r.hold.SeatLabel})
	}
	r.hold.Status = st
	r.updatedAt = s.now()
}

func copyHold(h model.SeatHold) *model.SeatHold {
	out := h
	if h.ExpiresAt != nil {
		e := *h.ExpiresAt
		out.ExpiresAt = &e
	}
	if h.HolderOrderID != nil {
		o := *h.HolderOrderID
		out.HolderOrderID = &o
	}
	if h.HolderUserID != nil {
		u := *h.HolderUserID
		out.HolderUserID = &u
	}
	return &out
}

// ListUnavailable returns the sorted labels of a trip's held and confirmed seats.
func (s *Holds) ListUnavailable(ctx context.Context, tripID string) ([]string, error) {
	if err := ctxErr(ctx, "list unavailable"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := []string{}
	seen := map[string]bool{}
	for _, r := range s.rows {
		if r.hold.TripID != tripID || !r.hold.Status.Active() {
			continue
		}
		if seen[r.hold.SeatLabel] {
			return nil, fmt.Errorf("trip %s seat %s has two active holds: %w",
				tripID, r.hold.SeatLabel, repository.ErrInvariantViolation)
		}
		seen[r.hold.SeatLabel] = true
		labels = append(labels, r.hold.SeatLabel)
	}
	sort.Strings(labels)
	return labels, nil
}

// TryClaim lapses an expired hold on the seat, then inserts a new held row.
// A live holder yields ErrConflict.
func (s *Holds) TryClaim(ctx context.Context, req repository.ClaimRequest) (*model.SeatHold, error) {
	if err := ctxErr(ctx, "claim seat "+req.SeatLabel); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seatKey{req.TripID, req.SeatLabel}
	if id, ok := s.active[key]; ok {
		r := s.rows[id]
		if r.hold.Status == model.HoldHeld && r.hold.ExpiresAt != nil && r.hold.ExpiresAt.Before(req.CreatedAt) {
			s.setStatus(r, model.HoldExpired)
		} else {
			return nil, fmt.Errorf("claim seat %s: %w", req.SeatLabel, repository.ErrConflict)
		}
	}

	s.nextID++
	exp := req.ExpiresAt.UTC()
	h := model.SeatHold{
		ID:                s.nextID,
		TripID:            req.TripID,
		SeatLabel:         req.SeatLabel,
		HolderUserID:      req.HolderUserID,
		HolderToken:       req.HolderToken,
		Status:            model.HoldHeld,
		CreatedAt:         req.CreatedAt.UTC(),
		ExpiresAt:         &exp,
		PassengerSnapshot: req.PassengerSnapshot,
	}
	s.rows[h.ID] = &holdRow{hold: h, updatedAt: s.now()}
	s.active[key] = h.ID
	return copyHold(h), nil
}

// ReleaseHolds cancels the listed holds that are still held.
func (s *Holds) ReleaseHolds(ctx context.Context, ids []uint64) (int64, error) {
	if err := ctxErr(ctx, "release holds"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if r, ok := s.rows[id]; ok && r.hold.Status == model.HoldHeld {
			s.setStatus(r, model.HoldCancelled)
			n++
		}
	}
	return n, nil
}

// AttachOrder binds the holds to orderID, all or none.
func (s *Holds) AttachOrder(ctx context.Context, ids []uint64, holderToken, orderID string) error {
	if err := ctxErr(ctx, "attach order"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*holdRow
	for _, id := range ids {
		r, ok := s.rows[id]
		if !ok {
			return fmt.Errorf("hold %d: %w", id, repository.ErrNotFound)
		}
		h := r.hold
		switch {
		case h.HolderToken != holderToken:
			return fmt.Errorf("hold %d: %w", id, repository.ErrForbidden)
		case h.HolderOrderID != nil && *h.HolderOrderID == orderID:
		case h.HolderOrderID != nil:
			return fmt.Errorf("hold %d already belongs to order %s, refusing %s: %w",
				id, *h.HolderOrderID, orderID, repository.ErrInvariantViolation)
		case h.Status != model.HoldHeld:
			return fmt.Errorf("hold %d is %s: %w", id, h.Status, repository.ErrConflict)
		default:
			pending = append(pending, r)
		}
	}
	for _, r := range pending {
		o := orderID
		r.hold.HolderOrderID = &o
		r.updatedAt = s.now()
	}
	return nil
}

// ConfirmByOrder confirms the order's held rows and clears their expiry.
func (s *Holds) ConfirmByOrder(ctx context.Context, orderID string) (int64, error) {
	if err := ctxErr(ctx, "confirm order"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.hold.Status == model.HoldHeld && r.hold.HolderOrderID != nil && *r.hold.HolderOrderID == orderID {
			s.setStatus(r, model.HoldConfirmed)
			r.hold.ExpiresAt = nil
			n++
		}
	}
	return n, nil
}

// CancelByOrder cancels the order's held and confirmed rows.
func (s *Holds) CancelByOrder(ctx context.Context, orderID string) (int64, error) {
	if err := ctxErr(ctx, "cancel order"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.hold.Status.Active() && r.hold.HolderOrderID != nil && *r.hold.HolderOrderID == orderID {
			s.setStatus(r, model.HoldCancelled)
			n++
		}
	}
	return n, nil
}

// CancelHold cancels one active hold.  An expired hold is a conflict.
func (s *Holds) CancelHold(ctx context.Context, id uint64) (*model.SeatHold, error) {
	if err := ctxErr(ctx, "cancel hold"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("get hold %d: %w", id, repository.ErrNotFound)
	}
	if r.hold.Status.Active() {
		s.setStatus(r, model.HoldCancelled)
	}
	if r.hold.Status != model.HoldCancelled {
		return copyHold(r.hold), fmt.Errorf("hold %d is %s: %w", id, r.hold.Status, repository.ErrConflict)
	}
	return copyHold(r.hold), nil
}

// ExpireLapsed expires up to limit held rows whose expiry is before now.
func (s *Holds) ExpireLapsed(ctx context.Context, now time.Time, limit int) (repository.SweepResult, error) {
	var out repository.SweepResult
	if err := ctxErr(ctx, "sweep"); err != nil {
		return out, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0)
	for id, r := range s.rows {
		if r.hold.Status == model.HoldHeld && r.hold.ExpiresAt != nil && r.hold.ExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	trips := map[string]bool{}
	for _, id := range ids {
		r := s.rows[id]
		s.setStatus(r, model.HoldExpired)
		out.Expired++
		if !trips[r.hold.TripID] {
			trips[r.hold.TripID] = true
			out.TripIDs = append(out.TripIDs, r.hold.TripID)
		}
	}
	return out, nil
}

// PurgeTerminal deletes terminal rows last updated before the cutoff.
func (s *Holds) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	if err := ctxErr(ctx, "purge holds"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.hold.Status.Terminal() && r.updatedAt.Before(before) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// GetByID returns one hold.
func (s *Holds) GetByID(ctx context.Context, id uint64) (*model.SeatHold, error) {
	if err := ctxErr(ctx, "get hold"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("get hold %d: %w", id, repository.ErrNotFound)
	}
	return copyHold(r.hold), nil
}

// HoldsByOrder returns every hold of an order sorted by seat.
func (s *Holds) HoldsByOrder(ctx context.Context, orderID string) ([]model.SeatHold, error) {
	if err := ctxErr(ctx, "holds by order"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SeatHold
	for _, r := range s.rows {
		if r.hold.HolderOrderID != nil && *r.hold.HolderOrderID == orderID {
			out = append(out, *copyHold(r.hold))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeatLabel != out[j].SeatLabel {
			return out[i].SeatLabel < out[j].SeatLabel
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
