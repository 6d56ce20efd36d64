// Package repository defines the MySQL-backed stores of the reservation
// core and the error values shared by every store implementation.  These
// sentinel values let higher layers distinguish expected outcomes from
// infrastructure failures.  For example, ErrConflict means a racing
// request already holds the seat, while ErrUnavailable means the database
// could not be reached in time and the whole call may be retried.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when an atomic conditional write loses against
// an existing active row, such as claiming a seat already held or
// confirmed on the same trip.  Handlers should translate this into an
// HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when a hold, ticket or trip does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller presents a holder token that
// does not match the holds it is trying to modify.  Handlers should
// translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrUnavailable wraps storage failures and timeouts.  Callers may retry
// with a bounded backoff.
var ErrUnavailable = errors.New("storage unavailable")

// ErrInvariantViolation signals that stored state contradicts a core
// guarantee (two active rows for one seat, an order id being replaced).
// It must be logged as a defect and never swallowed.
var ErrInvariantViolation = errors.New("invariant violation")

// mysqlDuplicateEntry is the server error number for a unique key collision.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL unique constraint violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// classify maps a driver error onto the package sentinels.  Errors that
// are already classified pass through untouched.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnavailable), errors.Is(err, ErrInvariantViolation),
		errors.Is(err, ErrForbidden):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case isDuplicateKey(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		// Timeouts (context.DeadlineExceeded) land here as well.
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
}
