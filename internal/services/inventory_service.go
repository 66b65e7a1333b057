package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pocketbase/dbx"

	"ticket-engine/internal/status"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

// InventoryService is the only writer of ticket_types.remaining_quantity and
// inventory_units.state. Every mutation is a single conditional UPDATE so
// concurrent callers serialize on the store, not on in-process locks; the
// engine may run as multiple instances against the same database.
type InventoryService struct {
	db dbx.Builder
}

func NewInventoryService(db dbx.Builder) *InventoryService {
	return &InventoryService{db: db}
}

// withDB returns a copy bound to another builder, typically a transaction.
func (s *InventoryService) withDB(db dbx.Builder) *InventoryService {
	clone := *s
	clone.db = db
	return &clone
}

// TryReserve decrements remaining_quantity by qty if and only if enough stock
// remains. Check and decrement are one atomic statement; there is no
// check-then-decrement window for two buyers to slip through.
func (s *InventoryService) TryReserve(ctx context.Context, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("reserve qty must be positive, got %d", qty)
	}

	res, err := s.db.NewQuery(`
		UPDATE ticket_types
		SET remaining_quantity = remaining_quantity - {:qty}
		WHERE id = {:id} AND remaining_quantity >= {:qty}
	`).Bind(dbx.Params{"id": ticketTypeID, "qty": qty}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		monitoring.TrackReserve("insufficient_stock")
		if _, err := s.GetTicketType(ctx, ticketTypeID); err != nil {
			return err
		}
		return status.ErrInsufficientStock
	}

	monitoring.TrackReserve("ok")
	return nil
}

// ReleaseQuantity returns qty to the ticket type's pool. The guard against
// exceeding initial_quantity protects the ledger invariant; callers must make
// sure a release happens at most once per reservation (the reservation close
// CAS provides that).
func (s *InventoryService) ReleaseQuantity(ctx context.Context, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("release qty must be positive, got %d", qty)
	}

	res, err := s.db.NewQuery(`
		UPDATE ticket_types
		SET remaining_quantity = remaining_quantity + {:qty}
		WHERE id = {:id} AND remaining_quantity + {:qty} <= initial_quantity
	`).Bind(dbx.Params{"id": ticketTypeID, "qty": qty}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("release of %d on ticket type %s rejected: %w", qty, ticketTypeID, status.ErrStatusConflict)
	}
	return nil
}

// TryReserveUnits transitions each unit free -> held, tagging it with the
// owning reservation. If any unit is not free the whole call fails and units
// flipped earlier in the call are rolled back before returning.
func (s *InventoryService) TryReserveUnits(ctx context.Context, unitIDs []string, reservationID string) error {
	held := make([]string, 0, len(unitIDs))

	for _, unitID := range unitIDs {
		res, err := s.db.NewQuery(`
			UPDATE inventory_units
			SET state = 'held', reservation_id = {:rid}
			WHERE id = {:id} AND state = 'free'
		`).Bind(dbx.Params{"id": unitID, "rid": reservationID}).WithContext(ctx).Execute()

		var rows int64
		if err == nil {
			rows, err = res.RowsAffected()
		}
		if err != nil || rows == 0 {
			if rbErr := s.ReleaseUnits(ctx, held, reservationID); rbErr != nil {
				slog.Error("unit hold rollback failed", "reservation_id", reservationID, "error", rbErr)
			}
			if err != nil {
				return err
			}
			monitoring.TrackReserve("unit_unavailable")
			return fmt.Errorf("unit %s: %w", unitID, status.ErrUnitUnavailable)
		}

		held = append(held, unitID)
	}

	monitoring.TrackReserve("ok")
	return nil
}

// ReleaseUnits transitions held -> free for units owned by the given
// reservation. Units not in that state are skipped, which makes the call
// idempotent and safe for partial rollbacks.
func (s *InventoryService) ReleaseUnits(ctx context.Context, unitIDs []string, reservationID string) error {
	for _, unitID := range unitIDs {
		_, err := s.db.NewQuery(`
			UPDATE inventory_units
			SET state = 'free', reservation_id = ''
			WHERE id = {:id} AND state = 'held' AND reservation_id = {:rid}
		`).Bind(dbx.Params{"id": unitID, "rid": reservationID}).WithContext(ctx).Execute()
		if err != nil {
			return err
		}
	}
	return nil
}

// CommitUnits converts held units of a reservation into a permanent sale.
// Only the holder of the reservation close CAS may call this, so a unit not
// held by the reservation signals a broken invariant rather than a lost race.
func (s *InventoryService) CommitUnits(ctx context.Context, unitIDs []string, reservationID string) error {
	for _, unitID := range unitIDs {
		res, err := s.db.NewQuery(`
			UPDATE inventory_units
			SET state = 'sold'
			WHERE id = {:id} AND state = 'held' AND reservation_id = {:rid}
		`).Bind(dbx.Params{"id": unitID, "rid": reservationID}).WithContext(ctx).Execute()
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("commit of unit %s for reservation %s: %w", unitID, reservationID, status.ErrStatusConflict)
		}
	}
	return nil
}

// GetTicketType loads a ticket type row.
func (s *InventoryService) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	row := &models.TicketType{}
	err := s.db.Select(
		"id", "event_id", "name", "price_minor",
		"initial_quantity", "remaining_quantity",
		"sales_start", "sales_end",
		"max_per_order", "max_per_user_per_event",
	).From("ticket_types").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket type %s: %w", id, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// GetUnit loads an inventory unit row.
func (s *InventoryService) GetUnit(ctx context.Context, id string) (*models.InventoryUnit, error) {
	row := &models.InventoryUnit{}
	err := s.db.Select("id", "event_id", "venue_id", "label", "section", "capacity", "state", "reservation_id").
		From("inventory_units").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inventory unit %s: %w", id, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
