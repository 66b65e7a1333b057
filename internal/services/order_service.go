package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"
	qrcode "github.com/skip2/go-qrcode"

	"ticket-engine/internal/status"
	"ticket-engine/models"
	"ticket-engine/monitoring"
)

// OrderService drives an order through its lifecycle: draft, hold, pending
// payment, settlement or failure. Every status move is a conditional update
// against the expected current status, so two concurrent transitions on the
// same order can never both win.
type OrderService struct {
	db           dbx.Builder
	inventory    *InventoryService
	reservations *ReservationService
	notifier     Notifier

	now func() time.Time
}

func NewOrderService(db dbx.Builder, inventory *InventoryService, reservations *ReservationService, notifier Notifier) *OrderService {
	return &OrderService{
		db:           db,
		inventory:    inventory,
		reservations: reservations,
		notifier:     notifier,
		now:          time.Now,
	}
}

// withDB returns a copy bound to another builder, typically a transaction.
func (s *OrderService) withDB(db dbx.Builder) *OrderService {
	clone := *s
	clone.db = db
	clone.inventory = s.inventory.withDB(db)
	clone.reservations = s.reservations.withDB(db)
	return &clone
}

type CreateOrderInput struct {
	UserID        string
	EventID       string
	Items         []models.OrderItem
	PaymentMethod string
}

// CreateOrder validates the cart against sales windows and purchase caps,
// then places a hold on the inventory. The returned order is pending payment
// with its reservation attached; any hold failure leaves the order failed and
// no inventory reserved.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}

	var totalMinor int64
	for i, item := range in.Items {
		qty := item.Quantity
		if len(item.UnitIDs) > 0 {
			qty = len(item.UnitIDs)
			in.Items[i].Quantity = qty
		}
		if qty <= 0 {
			return nil, fmt.Errorf("item %d: quantity must be positive", i)
		}

		tt, err := s.inventory.GetTicketType(ctx, item.TicketTypeID)
		if err != nil {
			return nil, err
		}
		if tt.EventID != in.EventID {
			return nil, fmt.Errorf("ticket type %s does not belong to event %s: %w", tt.ID, in.EventID, status.ErrNotFound)
		}
		if err := s.checkSalesWindow(tt); err != nil {
			return nil, err
		}
		if tt.MaxPerOrder > 0 && qty > tt.MaxPerOrder {
			return nil, fmt.Errorf("ticket type %s allows at most %d per order: %w", tt.ID, tt.MaxPerOrder, status.ErrLimitExceeded)
		}
		if tt.MaxPerUserPerEvt > 0 {
			owned, err := s.countUserTickets(ctx, in.UserID, tt.ID)
			if err != nil {
				return nil, err
			}
			if owned+qty > tt.MaxPerUserPerEvt {
				return nil, fmt.Errorf("ticket type %s allows at most %d per user: %w", tt.ID, tt.MaxPerUserPerEvt, status.ErrLimitExceeded)
			}
		}

		for _, unitID := range item.UnitIDs {
			unit, err := s.inventory.GetUnit(ctx, unitID)
			if err != nil {
				return nil, err
			}
			if unit.EventID != in.EventID {
				return nil, fmt.Errorf("unit %s does not belong to event %s: %w", unitID, in.EventID, status.ErrUnitUnavailable)
			}
		}

		totalMinor += tt.PriceMinor * int64(qty)
	}

	nowDT, err := types.ParseDateTime(s.now())
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		EventID:          in.EventID,
		Status:           models.OrderDraft,
		TotalAmountMinor: totalMinor,
		PaymentMethod:    in.PaymentMethod,
		Created:          nowDT,
		Updated:          nowDT,
	}

	_, err = s.db.Insert("orders", dbx.Params{
		"id":                    order.ID,
		"user_id":               order.UserID,
		"event_id":              order.EventID,
		"status":                string(order.Status),
		"total_amount_minor":    order.TotalAmountMinor,
		"refunded_amount_minor": 0,
		"refund_reserved_minor": 0,
		"payment_method":        order.PaymentMethod,
		"external_ref":          "",
		"reservation_id":        "",
		"created":               nowDT.String(),
		"updated":               nowDT.String(),
	}).WithContext(ctx).Execute()
	if err != nil {
		return nil, err
	}

	reservation, err := s.reservations.Hold(ctx, order.ID, in.Items)
	if err != nil {
		if failErr := s.transition(ctx, order.ID, models.OrderDraft, models.OrderFailed, nil); failErr != nil {
			slog.Error("failing draft order after hold failure", "order_id", order.ID, "error", failErr)
		}
		return nil, err
	}

	err = s.transition(ctx, order.ID, models.OrderDraft, models.OrderPendingPayment, dbx.Params{
		"reservation_id": reservation.ID,
	})
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderPendingPayment
	order.ReservationID = reservation.ID
	return order, nil
}

// Settle applies a verified payment result to a pending order. The
// reservation close CAS decides the race against the expiry sweep: whoever
// loses observes ErrReservationExpired and the money has to be refunded
// out-of-band. Settlement issues one ticket per reserved unit or quantity.
func (s *OrderService) Settle(ctx context.Context, orderID string, result models.PaymentResult) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == models.OrderPaid {
		if result.ExternalRef != "" && order.ExternalRef == result.ExternalRef {
			// Webhook redelivery of the confirmation that already settled.
			return order, nil
		}
		return nil, status.ErrAlreadyConfirmed
	}
	if order.Status == models.OrderFailed {
		// The sweep (or a cancellation) already failed the order. The money
		// moved for a hold that no longer exists and must be refunded
		// out-of-band.
		monitoring.TrackSettlement("reservation_expired")
		return nil, fmt.Errorf("order %s already failed: %w", orderID, status.ErrReservationExpired)
	}
	if order.Status != models.OrderPendingPayment {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, status.ErrStatusConflict)
	}

	reservation, err := s.reservations.Get(ctx, order.ReservationID)
	if err != nil {
		return nil, err
	}

	if err := s.reservations.CloseCommitted(ctx, reservation.ID); err != nil {
		switch {
		case errors.Is(err, status.ErrReservationExpired):
			// The hold lapsed before the confirmation arrived. Release
			// eagerly instead of waiting for the sweep so the caller sees a
			// consistent failed order, then report: the payment has already
			// moved and must be refunded out-of-band.
			s.releaseExpired(ctx, reservation)
			monitoring.TrackSettlement("reservation_expired")
			return nil, status.ErrReservationExpired
		case errors.Is(err, status.ErrAlreadyCommitted):
			// An earlier settlement closed the reservation but never finished:
			// the order is still pending payment with no tickets. Drive the
			// remaining steps again.
			slog.Warn("resuming interrupted settlement", "order_id", orderID, "reservation_id", reservation.ID)
		default:
			return nil, err
		}
	}

	extra := dbx.Params{"external_ref": result.ExternalRef}
	if result.Method != "" {
		extra["payment_method"] = result.Method
	}

	// Commit, ticket issuance and the paid transition are one transaction, so
	// an interrupted settlement leaves the order resumable with no tickets.
	err = runInTx(s.db, func(tx dbx.Builder) error {
		svc := s.withDB(tx)
		if err := svc.reservations.CommitInventory(ctx, reservation); err != nil {
			return err
		}
		if err := svc.issueTickets(ctx, order, reservation); err != nil {
			return err
		}
		return svc.transition(ctx, orderID, models.OrderPendingPayment, models.OrderPaid, extra)
	})
	if err != nil {
		if errors.Is(err, status.ErrStatusConflict) {
			// Lost to a concurrent settlement that finished first.
			return s.settleRace(ctx, orderID, result, err)
		}
		return nil, err
	}

	order.Status = models.OrderPaid
	order.ExternalRef = result.ExternalRef
	monitoring.TrackSettlement("paid")

	s.notifier.NotifyUser(order.UserID, map[string]any{
		"type":     "order_paid",
		"order_id": order.ID,
		"event_id": order.EventID,
	})

	return order, nil
}

// Cancel aborts a pending order, releasing its hold. Valid only while the
// order is pending payment; a cancel racing a settlement loses cleanly.
func (s *OrderService) Cancel(ctx context.Context, orderID, reason string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderPendingPayment {
		return fmt.Errorf("order %s is %s: %w", orderID, order.Status, status.ErrStatusConflict)
	}

	reservation, err := s.reservations.Get(ctx, order.ReservationID)
	if err != nil {
		return err
	}

	err = s.reservations.CloseReleased(ctx, reservation.ID)
	switch {
	case err == nil:
		if err := s.reservations.ReleaseInventory(ctx, reservation); err != nil {
			return err
		}
	case errors.Is(err, status.ErrReservationExpired):
		// The sweep already released it; just make sure the order lands in
		// its terminal state below.
	default:
		return err
	}

	if err := s.transition(ctx, orderID, models.OrderPendingPayment, models.OrderFailed, nil); err != nil {
		return err
	}

	slog.Info("order cancelled", "order_id", orderID, "reason", reason)
	return nil
}

// GetOrder loads an order by id.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.Select(
		"id", "user_id", "event_id", "status",
		"total_amount_minor", "refunded_amount_minor", "refund_reserved_minor",
		"payment_method", "external_ref", "reservation_id",
		"created", "updated",
	).From("orders").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListTickets returns the tickets of an order.
func (s *OrderService) ListTickets(ctx context.Context, orderID string) ([]models.Ticket, error) {
	tickets := []models.Ticket{}
	err := s.db.Select(
		"id", "order_id", "event_id", "ticket_type_id", "unit_id", "user_id",
		"status", "price_minor", "qr_code", "checked_in_at", "created",
	).From("tickets").Where(dbx.HashExp{"order_id": orderID}).WithContext(ctx).All(&tickets)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *OrderService) checkSalesWindow(tt *models.TicketType) error {
	now := s.now()
	if !tt.SalesStart.IsZero() && now.Before(tt.SalesStart.Time()) {
		return fmt.Errorf("ticket type %s not on sale yet: %w", tt.ID, status.ErrSalesClosed)
	}
	if !tt.SalesEnd.IsZero() && now.After(tt.SalesEnd.Time()) {
		return fmt.Errorf("ticket type %s sales ended: %w", tt.ID, status.ErrSalesClosed)
	}
	return nil
}

func (s *OrderService) countUserTickets(ctx context.Context, userID, ticketTypeID string) (int, error) {
	var count int
	err := s.db.NewQuery(`
		SELECT COUNT(*) FROM tickets
		WHERE user_id = {:user} AND ticket_type_id = {:tt}
		AND status IN ('issued', 'checked_in')
	`).Bind(dbx.Params{"user": userID, "tt": ticketTypeID}).WithContext(ctx).Row(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *OrderService) issueTickets(ctx context.Context, order *models.Order, reservation *models.Reservation) error {
	items, err := reservation.Items()
	if err != nil {
		return err
	}

	nowDT, err := types.ParseDateTime(s.now())
	if err != nil {
		return err
	}

	for _, item := range items {
		tt, err := s.inventory.GetTicketType(ctx, item.TicketTypeID)
		if err != nil {
			return err
		}

		unitIDs := item.UnitIDs
		if len(unitIDs) == 0 {
			unitIDs = make([]string, item.Quantity)
		}

		for _, unitID := range unitIDs {
			ticketID := uuid.NewString()
			_, err := s.db.Insert("tickets", dbx.Params{
				"id":             ticketID,
				"order_id":       order.ID,
				"event_id":       order.EventID,
				"ticket_type_id": item.TicketTypeID,
				"unit_id":        unitID,
				"user_id":        order.UserID,
				"status":         string(models.TicketIssued),
				"price_minor":    tt.PriceMinor,
				"qr_code":        ticketQR(ticketID, order.ID),
				"checked_in_at":  "",
				"created":        nowDT.String(),
				"updated":        nowDT.String(),
			}).WithContext(ctx).Execute()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *OrderService) transition(ctx context.Context, orderID string, from, to models.OrderStatus, extra dbx.Params) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("order transition %s -> %s not allowed: %w", from, to, status.ErrStatusConflict)
	}

	nowDT, err := types.ParseDateTime(s.now())
	if err != nil {
		return err
	}

	params := dbx.Params{"status": string(to), "updated": nowDT.String()}
	for k, v := range extra {
		params[k] = v
	}

	query := s.db.Update("orders", params, dbx.NewExp("id = {:id} AND status = {:expected}", dbx.Params{
		"id":       orderID,
		"expected": string(from),
	}))
	res, err := query.WithContext(ctx).Execute()
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order %s no longer %s: %w", orderID, from, status.ErrStatusConflict)
	}
	return nil
}

// settleRace resolves a settlement that lost the paid transition to a
// concurrent one. A finished winner with the same reference makes the loss an
// idempotent success; otherwise the duplicate is rejected.
func (s *OrderService) settleRace(ctx context.Context, orderID string, result models.PaymentResult, cause error) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, cause
	}
	if order.Status == models.OrderPaid {
		if result.ExternalRef != "" && order.ExternalRef == result.ExternalRef {
			return order, nil
		}
		monitoring.TrackSettlement("duplicate")
		return nil, status.ErrAlreadyConfirmed
	}
	return nil, cause
}

func (s *OrderService) releaseExpired(ctx context.Context, reservation *models.Reservation) {
	if err := s.reservations.CloseReleased(ctx, reservation.ID); err != nil {
		// Already released by the sweep.
		return
	}
	if err := s.reservations.ReleaseInventory(ctx, reservation); err != nil {
		slog.Error("releasing expired reservation during settle", "reservation_id", reservation.ID, "error", err)
		return
	}
	if err := s.transition(ctx, reservation.OrderID, models.OrderPendingPayment, models.OrderFailed, nil); err != nil {
		slog.Error("failing order for expired reservation", "order_id", reservation.OrderID, "error", err)
	}
}

// ticketQR renders the ticket's check-in code as a PNG data URL. QR failures
// degrade to an empty code instead of aborting settlement.
func ticketQR(ticketID, orderID string) string {
	png, err := qrcode.Encode(fmt.Sprintf("ticket:%s:order:%s", ticketID, orderID), qrcode.Medium, 256)
	if err != nil {
		slog.Error("ticket QR generation failed", "ticket_id", ticketID, "error", err)
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
