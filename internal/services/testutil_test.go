package services

import (
	"context"
	"testing"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE ticket_types (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	price_minor INTEGER NOT NULL DEFAULT 0,
	initial_quantity INTEGER NOT NULL DEFAULT 0,
	remaining_quantity INTEGER NOT NULL DEFAULT 0,
	sales_start TEXT NOT NULL DEFAULT '',
	sales_end TEXT NOT NULL DEFAULT '',
	max_per_order INTEGER NOT NULL DEFAULT 0,
	max_per_user_per_event INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE inventory_units (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	venue_id TEXT NOT NULL DEFAULT '',
	label TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL DEFAULT '',
	capacity INTEGER NOT NULL DEFAULT 1,
	state TEXT NOT NULL DEFAULT 'free',
	reservation_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE reservations (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	items TEXT NOT NULL DEFAULT '',
	expires_at TEXT NOT NULL DEFAULT '',
	created TEXT NOT NULL DEFAULT '',
	updated TEXT NOT NULL DEFAULT ''
);

CREATE TABLE orders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	total_amount_minor INTEGER NOT NULL DEFAULT 0,
	refunded_amount_minor INTEGER NOT NULL DEFAULT 0,
	refund_reserved_minor INTEGER NOT NULL DEFAULT 0,
	payment_method TEXT NOT NULL DEFAULT '',
	external_ref TEXT NOT NULL DEFAULT '',
	reservation_id TEXT NOT NULL DEFAULT '',
	created TEXT NOT NULL DEFAULT '',
	updated TEXT NOT NULL DEFAULT ''
);

CREATE TABLE tickets (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	ticket_type_id TEXT NOT NULL,
	unit_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	price_minor INTEGER NOT NULL DEFAULT 0,
	qr_code TEXT NOT NULL DEFAULT '',
	checked_in_at TEXT NOT NULL DEFAULT '',
	created TEXT NOT NULL DEFAULT '',
	updated TEXT NOT NULL DEFAULT ''
);

CREATE TABLE refunds (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	amount_minor INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'requested',
	reason TEXT NOT NULL DEFAULT '',
	requested_by TEXT NOT NULL DEFAULT '',
	approved_by TEXT NOT NULL DEFAULT '',
	provider_ref TEXT NOT NULL DEFAULT '',
	created TEXT NOT NULL DEFAULT '',
	updated TEXT NOT NULL DEFAULT ''
);
`

// newTestDB opens an isolated in-memory SQLite store with the engine schema.
// A single connection keeps every goroutine on the same database and lets
// SQLite serialize the conditional updates the way a shared store would.
func newTestDB(t *testing.T) *dbx.DB {
	t.Helper()

	db, err := dbx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.NewQuery(testSchema).Execute()
	require.NoError(t, err)

	return db
}

func seedTicketType(t *testing.T, db *dbx.DB, id string, qty int, priceMinor int64) {
	t.Helper()
	_, err := db.Insert("ticket_types", dbx.Params{
		"id":                 id,
		"event_id":           "evt1",
		"name":               id,
		"price_minor":        priceMinor,
		"initial_quantity":   qty,
		"remaining_quantity": qty,
	}).Execute()
	require.NoError(t, err)
}

func seedUnit(t *testing.T, db *dbx.DB, id string) {
	t.Helper()
	_, err := db.Insert("inventory_units", dbx.Params{
		"id":       id,
		"event_id": "evt1",
		"venue_id": "venue1",
		"label":    id,
		"section":  "A",
		"capacity": 1,
		"state":    "free",
	}).Execute()
	require.NoError(t, err)
}

func seedPendingOrder(t *testing.T, db *dbx.DB, id string) {
	t.Helper()
	now := types.NowDateTime()
	_, err := db.Insert("orders", dbx.Params{
		"id":                 id,
		"user_id":            "user1",
		"event_id":           "evt1",
		"status":             "pending_payment",
		"total_amount_minor": 6000,
		"payment_method":     "card",
		"created":            now.String(),
		"updated":            now.String(),
	}).Execute()
	require.NoError(t, err)
}

func seedPaidOrder(t *testing.T, db *dbx.DB, id string, totalMinor int64) {
	t.Helper()
	now := types.NowDateTime()
	_, err := db.Insert("orders", dbx.Params{
		"id":                 id,
		"user_id":            "user1",
		"event_id":           "evt1",
		"status":             "paid",
		"total_amount_minor": totalMinor,
		"payment_method":     "card",
		"external_ref":       "pay_" + id,
		"created":            now.String(),
		"updated":            now.String(),
	}).Execute()
	require.NoError(t, err)
}

func remainingQty(t *testing.T, db *dbx.DB, ticketTypeID string) int {
	t.Helper()
	var qty int
	err := db.NewQuery(`SELECT remaining_quantity FROM ticket_types WHERE id = {:id}`).
		Bind(dbx.Params{"id": ticketTypeID}).Row(&qty)
	require.NoError(t, err)
	return qty
}

func unitState(t *testing.T, db *dbx.DB, unitID string) string {
	t.Helper()
	var state string
	err := db.NewQuery(`SELECT state FROM inventory_units WHERE id = {:id}`).
		Bind(dbx.Params{"id": unitID}).Row(&state)
	require.NoError(t, err)
	return state
}

func orderStatus(t *testing.T, db *dbx.DB, orderID string) string {
	t.Helper()
	var s string
	err := db.NewQuery(`SELECT status FROM orders WHERE id = {:id}`).
		Bind(dbx.Params{"id": orderID}).Row(&s)
	require.NoError(t, err)
	return s
}

func countTickets(t *testing.T, db *dbx.DB, orderID string) int {
	t.Helper()
	var n int
	err := db.NewQuery(`SELECT COUNT(*) FROM tickets WHERE order_id = {:id}`).
		Bind(dbx.Params{"id": orderID}).Row(&n)
	require.NoError(t, err)
	return n
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
