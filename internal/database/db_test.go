package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsCoverAllocationTables(t *testing.T) {
	stmts := Statements()
	require.NotEmpty(t, stmts)
	joined := strings.Join(stmts, "\n")
	for _, table := range []string{
		"restaurant_tables", "table_adjacencies", "bookings", "booking_state_history",
		"table_holds", "table_hold_members", "booking_table_assignments",
		"hold_confirmations", "manual_assignment_sessions",
	} {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	for _, s := range stmts {
		assert.False(t, strings.HasSuffix(s, ";"))
	}
}
