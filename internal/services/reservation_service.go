package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/redis/go-redis/v9"

	"ticket-engine/internal/status"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

const sweepLockKey = "reservation:sweep:lock"

// ReservationService issues time-boxed holds on inventory during checkout and
// releases expired ones. A reservation closes exactly once: settlement and the
// expiry sweep both race on the status CAS in closeReservation, so whichever
// loses observes the winner's terminal state instead of double-applying.
type ReservationService struct {
	db        dbx.Builder
	inventory *InventoryService
	redis     *redis.Client
	ttl       time.Duration
	lockTTL   time.Duration

	now func() time.Time
}

func NewReservationService(db dbx.Builder, inventory *InventoryService, redisClient *redis.Client, ttl, sweepInterval time.Duration) *ReservationService {
	return &ReservationService{
		db:        db,
		inventory: inventory,
		redis:     redisClient,
		ttl:       ttl,
		lockTTL:   sweepInterval,
		now:       time.Now,
	}
}

// withDB returns a copy bound to another builder, typically a transaction.
func (s *ReservationService) withDB(db dbx.Builder) *ReservationService {
	clone := *s
	clone.db = db
	clone.inventory = s.inventory.withDB(db)
	return &clone
}

// Hold reserves inventory for every cart item. Ticket-type stock is always
// decremented; unit items additionally flip their seats/tables to held. Any
// failure releases everything already reserved in this call and returns the
// first failure reason, so a failed hold is never visible as reserved stock.
// The reserve steps and the reservation row commit as one store transaction:
// stock is never decremented without an active row for the sweep to find.
func (s *ReservationService) Hold(ctx context.Context, orderID string, items []models.OrderItem) (*models.Reservation, error) {
	var reservation *models.Reservation
	err := runInTx(s.db, func(tx dbx.Builder) error {
		var err error
		reservation, err = s.withDB(tx).hold(ctx, orderID, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *ReservationService) hold(ctx context.Context, orderID string, items []models.OrderItem) (*models.Reservation, error) {
	nowDT, err := types.ParseDateTime(s.now())
	if err != nil {
		return nil, err
	}
	expiresDT, err := types.ParseDateTime(s.now().Add(s.ttl))
	if err != nil {
		return nil, err
	}

	reservation := &models.Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    models.ReservationActive,
		ExpiresAt: expiresDT,
		Created:   nowDT,
	}

	reservedItems := make([]models.ReservationItem, 0, len(items))
	allUnits := make([]string, 0)

	rollback := func() {
		for _, it := range reservedItems {
			if err := s.inventory.ReleaseQuantity(ctx, it.TicketTypeID, it.Quantity); err != nil {
				slog.Error("hold rollback failed", "ticket_type", it.TicketTypeID, "error", err)
			}
		}
		if len(allUnits) > 0 {
			if err := s.inventory.ReleaseUnits(ctx, allUnits, reservation.ID); err != nil {
				slog.Error("hold unit rollback failed", "reservation_id", reservation.ID, "error", err)
			}
		}
	}

	for _, item := range items {
		qty := item.Quantity
		if len(item.UnitIDs) > 0 {
			qty = len(item.UnitIDs)
		}

		if err := s.inventory.TryReserve(ctx, item.TicketTypeID, qty); err != nil {
			rollback()
			return nil, err
		}
		reservedItems = append(reservedItems, models.ReservationItem{
			TicketTypeID: item.TicketTypeID,
			Quantity:     qty,
			UnitIDs:      item.UnitIDs,
		})

		if len(item.UnitIDs) > 0 {
			if err := s.inventory.TryReserveUnits(ctx, item.UnitIDs, reservation.ID); err != nil {
				rollback()
				return nil, err
			}
			allUnits = append(allUnits, item.UnitIDs...)
		}
	}

	if err := reservation.SetItems(reservedItems); err != nil {
		rollback()
		return nil, err
	}

	_, err = s.db.Insert("reservations", dbx.Params{
		"id":         reservation.ID,
		"order_id":   reservation.OrderID,
		"status":     string(reservation.Status),
		"items":      reservation.ItemsJSON,
		"expires_at": reservation.ExpiresAt.String(),
		"created":    nowDT.String(),
		"updated":    nowDT.String(),
	}).WithContext(ctx).Execute()
	if err != nil {
		rollback()
		return nil, err
	}

	return reservation, nil
}

// Get loads a reservation by id.
func (s *ReservationService) Get(ctx context.Context, id string) (*models.Reservation, error) {
	row := &models.Reservation{}
	err := s.db.Select("id", "order_id", "status", "items", "expires_at", "created").
		From("reservations").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CloseCommitted claims the reservation for settlement. Fails with
// ErrReservationExpired when the TTL has passed or the sweep already released
// it, and ErrAlreadyCommitted when a previous settlement won.
func (s *ReservationService) CloseCommitted(ctx context.Context, id string) error {
	nowDT, err := types.ParseDateTime(s.now())
	if err != nil {
		return err
	}

	res, err := s.db.NewQuery(`
		UPDATE reservations
		SET status = 'committed', updated = {:now}
		WHERE id = {:id} AND status = 'active' AND expires_at >= {:now}
	`).Bind(dbx.Params{"id": id, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.closeConflict(ctx, id)
	}
	return nil
}

// CloseReleased claims the reservation for release (cancel or expiry).
// Idempotent from the caller's perspective: losing the CAS reports which
// terminal state won instead of releasing twice.
func (s *ReservationService) CloseReleased(ctx context.Context, id string) error {
	nowDT, err := types.ParseDateTime(s.now())
	if err != nil {
		return err
	}

	res, err := s.db.NewQuery(`
		UPDATE reservations
		SET status = 'released', updated = {:now}
		WHERE id = {:id} AND status = 'active'
	`).Bind(dbx.Params{"id": id, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.closeConflict(ctx, id)
	}
	return nil
}

func (s *ReservationService) closeConflict(ctx context.Context, id string) error {
	reservation, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if reservation.Status == models.ReservationCommitted {
		return status.ErrAlreadyCommitted
	}
	// Released, or still active but past its TTL.
	return status.ErrReservationExpired
}

// ReleaseInventory returns the reservation's stock to the pool. Must only be
// called after winning CloseReleased, which guarantees it runs at most once.
func (s *ReservationService) ReleaseInventory(ctx context.Context, reservation *models.Reservation) error {
	items, err := reservation.Items()
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := s.inventory.ReleaseQuantity(ctx, it.TicketTypeID, it.Quantity); err != nil {
			return err
		}
	}

	units, err := reservation.UnitIDs()
	if err != nil {
		return err
	}
	if len(units) > 0 {
		if err := s.inventory.ReleaseUnits(ctx, units, reservation.ID); err != nil {
			return err
		}
	}
	return nil
}

// CommitInventory finalizes the sale of a committed reservation's units. The
// ticket-type decrement was already applied at reserve time.
func (s *ReservationService) CommitInventory(ctx context.Context, reservation *models.Reservation) error {
	units, err := reservation.UnitIDs()
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return nil
	}
	return s.inventory.CommitUnits(ctx, units, reservation.ID)
}

// SweepExpired releases every active reservation past its TTL and fails the
// owning order. Safe to run concurrently on multiple instances: a Redis lock
// elects one sweeper per interval and the close CAS makes each release
// happen at most once even without the lock.
func (s *ReservationService) SweepExpired(ctx context.Context) (int, error) {
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, sweepLockKey, "1", s.lockTTL).Result()
		if err != nil {
			// Sweep without the lock; the close CAS keeps concurrent
			// sweepers from releasing twice.
			slog.Error("sweep lock acquisition failed, sweeping unlocked", "error", err)
		} else if !ok {
			return 0, nil
		}
	}

	nowDT, err := types.ParseDateTime(s.now())
	if err != nil {
		return 0, err
	}

	expired := []models.Reservation{}
	err = s.db.Select("id", "order_id", "status", "items", "expires_at", "created").
		From("reservations").
		Where(dbx.NewExp("status = 'active' AND expires_at < {:now}", dbx.Params{"now": nowDT.String()})).
		WithContext(ctx).
		All(&expired)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range expired {
		reservation := &expired[i]

		if err := s.CloseReleased(ctx, reservation.ID); err != nil {
			// Lost the race to a settlement or another sweeper.
			continue
		}
		if err := s.ReleaseInventory(ctx, reservation); err != nil {
			slog.Error("expired reservation release failed", "reservation_id", reservation.ID, "error", err)
			continue
		}

		if err := s.failOrder(ctx, reservation.OrderID, nowDT); err != nil {
			slog.Error("failing order for expired reservation", "order_id", reservation.OrderID, "error", err)
		}

		slog.Info("released expired reservation", "reservation_id", reservation.ID, "order_id", reservation.OrderID)
		released++
	}

	monitoring.TrackSweep(released)
	return released, nil
}

func (s *ReservationService) failOrder(ctx context.Context, orderID string, nowDT types.DateTime) error {
	_, err := s.db.NewQuery(`
		UPDATE orders
		SET status = 'failed', updated = {:now}
		WHERE id = {:id} AND status IN ('draft', 'pending_payment')
	`).Bind(dbx.Params{"id": orderID, "now": nowDT.String()}).WithContext(ctx).Execute()
	return err
}
