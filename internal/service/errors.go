package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/trip-seat-reservation/internal/repository"
)

// Store sentinels, re-exported so callers of the service need not import
// the repository package.
var (
	ErrConflict           = repository.ErrConflict
	ErrNotFound           = repository.ErrNotFound
	ErrUnavailable        = repository.ErrUnavailable
	ErrInvariantViolation = repository.ErrInvariantViolation
)

var (
	// ErrTripNotSellable means the request falls outside the trip's sale window.
	ErrTripNotSellable = errors.New("trip is not on sale")
	// ErrInvalidRequest covers malformed reservations: a seat/passenger count
	// mismatch, a seat outside the layout, or a passenger failing the schema.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrHolderMismatch means the holder token does not own the holds.
	ErrHolderMismatch = errors.New("holder token does not match")
)

// ConflictReason says why a reservation was rejected as a conflict.
type ConflictReason string

const (
	ReasonSeatTaken         ConflictReason = "seat_taken"
	ReasonDuplicateSeat     ConflictReason = "duplicate_seat"
	ReasonDuplicateIdentity ConflictReason = "duplicate_identity"
	ReasonBlacklisted       ConflictReason = "blacklisted"
)

// ConflictError is the user-facing rejection of a reservation.  It matches
// ErrConflict under errors.Is.
type ConflictError struct {
	Reason    ConflictReason
	SeatLabel string
	// Value is the offending identity for identity conflicts.  It is not
	// included in Error().
	Value string
}

func (e *ConflictError) Error() string {
	if e.SeatLabel != "" {
		return fmt.Sprintf("conflict: %s (seat %s)", e.Reason, e.SeatLabel)
	}
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// storeErr turns a context deadline or cancellation that escaped a store
// into ErrUnavailable.  Store sentinels pass through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvariantViolation) || errors.Is(err, repository.ErrForbidden) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return err
}
