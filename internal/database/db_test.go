package database

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsSplitsSchema(t *testing.T) {
	stmts := Statements()
	require.Len(t, stmts, 5)
	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS"), s)
		assert.NotContains(t, s, "--")
	}
	assert.Contains(t, stmts[2], "UNIQUE KEY uq_seat_holds_active (trip_id, seat_label, active_slot)")
	assert.Contains(t, stmts[3], "UNIQUE KEY uq_tickets_order_trip_seat (order_id, trip_id, seat_label)")
	for _, i := range []int{1, 2, 3} {
		assert.Regexp(t, `seat_label\s+VARCHAR\(16\)\s+COLLATE utf8mb4_bin NOT NULL`, stmts[i])
	}
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range Statements() {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
