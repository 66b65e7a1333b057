package services

import (
	"testing"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/status"
	"ticket-engine/models"
)

func seedTicket(t *testing.T, db *dbx.DB, id string, st models.TicketStatus) {
	t.Helper()
	now := types.NowDateTime()
	_, err := db.Insert("tickets", dbx.Params{
		"id":             id,
		"order_id":       "ord1",
		"event_id":       "evt1",
		"ticket_type_id": "tt_ga",
		"user_id":        "user1",
		"status":         string(st),
		"price_minor":    3000,
		"created":        now.String(),
		"updated":        now.String(),
	}).Execute()
	require.NoError(t, err)
}

func TestCheckIn(t *testing.T) {
	db := newTestDB(t)
	ctx := testCtx(t)
	svc := NewTicketService(db)
	seedTicket(t, db, "tk1", models.TicketIssued)

	ticket, err := svc.CheckIn(ctx, "tk1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketCheckedIn, ticket.Status)
	assert.False(t, ticket.CheckedInAt.IsZero())
}

func TestCheckIn_SecondScanRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := testCtx(t)
	svc := NewTicketService(db)
	seedTicket(t, db, "tk1", models.TicketIssued)

	_, err := svc.CheckIn(ctx, "tk1")
	require.NoError(t, err)

	_, err = svc.CheckIn(ctx, "tk1")
	assert.ErrorIs(t, err, status.ErrAlreadyCheckedIn)
}

func TestCheckIn_CancelledTicket(t *testing.T) {
	db := newTestDB(t)
	ctx := testCtx(t)
	svc := NewTicketService(db)
	seedTicket(t, db, "tk1", models.TicketCancelled)

	_, err := svc.CheckIn(ctx, "tk1")
	assert.ErrorIs(t, err, status.ErrInvalidTicketStatus)
}

func TestCheckIn_UnknownTicket(t *testing.T) {
	db := newTestDB(t)
	svc := NewTicketService(db)

	_, err := svc.CheckIn(testCtx(t), "missing")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestCancelTicket(t *testing.T) {
	db := newTestDB(t)
	ctx := testCtx(t)
	svc := NewTicketService(db)
	seedTicket(t, db, "tk1", models.TicketIssued)

	require.NoError(t, svc.Cancel(ctx, "tk1"))

	ticket, err := svc.Get(ctx, "tk1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, ticket.Status)
}

func TestCancelTicket_CheckedInRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := testCtx(t)
	svc := NewTicketService(db)
	seedTicket(t, db, "tk1", models.TicketIssued)

	_, err := svc.CheckIn(ctx, "tk1")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Cancel(ctx, "tk1"), status.ErrInvalidTicketStatus)
}

func TestListByUser(t *testing.T) {
	db := newTestDB(t)
	ctx := testCtx(t)
	svc := NewTicketService(db)
	seedTicket(t, db, "tk1", models.TicketIssued)
	seedTicket(t, db, "tk2", models.TicketCheckedIn)

	tickets, err := svc.ListByUser(ctx, "user1", "evt1")
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	tickets, err = svc.ListByUser(ctx, "user1", "other")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}
