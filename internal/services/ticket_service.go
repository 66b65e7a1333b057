package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"

	"ticket-engine/internal/status"
	"ticket-engine/models"
)

// TicketService handles the gate-side lifecycle of issued tickets.
type TicketService struct {
	db dbx.Builder
}

func NewTicketService(db dbx.Builder) *TicketService {
	return &TicketService{db: db}
}

// Get loads a ticket by id.
func (s *TicketService) Get(ctx context.Context, id string) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	err := s.db.Select(
		"id", "order_id", "event_id", "ticket_type_id", "unit_id", "user_id",
		"status", "price_minor", "qr_code", "checked_in_at", "created",
	).From("tickets").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(ticket)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// CheckIn marks an issued ticket as used. The conditional update makes the
// second scan of the same QR code lose deterministically.
func (s *TicketService) CheckIn(ctx context.Context, id string) (*models.Ticket, error) {
	nowDT := types.NowDateTime()

	res, err := s.db.NewQuery(`
		UPDATE tickets
		SET status = 'checked_in', checked_in_at = {:now}, updated = {:now}
		WHERE id = {:id} AND status = 'issued'
	`).Bind(dbx.Params{"id": id, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		ticket, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ticket.Status == models.TicketCheckedIn {
			return nil, fmt.Errorf("ticket %s already scanned at %s: %w", id, ticket.CheckedInAt.String(), status.ErrAlreadyCheckedIn)
		}
		return nil, fmt.Errorf("ticket %s is %s: %w", id, ticket.Status, status.ErrInvalidTicketStatus)
	}

	return s.Get(ctx, id)
}

// Cancel voids a ticket that has not been used yet. Checked-in tickets cannot
// be cancelled.
func (s *TicketService) Cancel(ctx context.Context, id string) error {
	nowDT := types.NowDateTime()

	res, err := s.db.NewQuery(`
		UPDATE tickets
		SET status = 'cancelled', updated = {:now}
		WHERE id = {:id} AND status IN ('pending', 'issued')
	`).Bind(dbx.Params{"id": id, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		ticket, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("ticket %s is %s: %w", id, ticket.Status, status.ErrInvalidTicketStatus)
	}
	return nil
}

// ListByUser returns a user's tickets for an event, newest first.
func (s *TicketService) ListByUser(ctx context.Context, userID, eventID string) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	q := s.db.Select(
		"id", "order_id", "event_id", "ticket_type_id", "unit_id", "user_id",
		"status", "price_minor", "qr_code", "checked_in_at", "created",
	).From("tickets").Where(dbx.HashExp{"user_id": userID}).OrderBy("created DESC")
	if eventID != "" {
		q = q.AndWhere(dbx.HashExp{"event_id": eventID})
	}
	if err := q.WithContext(ctx).All(&tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}
