package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"ticket-engine/internal/services/provider"
	"ticket-engine/internal/status"
	"ticket-engine/models"
	"ticket-engine/monitoring"
	"ticket-engine/utils"
)

// RefundService runs the refund ledger. The invariant is that an order's
// completed refunds plus in-flight reservations never exceed its total:
// Request reserves headroom with a conditional update, and only a provider
// confirmation converts the reservation into refunded money.
type RefundService struct {
	db        dbx.Builder
	providers *provider.Registry
	breaker   *utils.CircuitBreaker
	notifier  Notifier
	currency  string
}

func NewRefundService(db dbx.Builder, providers *provider.Registry, notifier Notifier, currency string) *RefundService {
	return &RefundService{
		db:        db,
		providers: providers,
		breaker:   utils.NewCircuitBreaker("refund-provider"),
		notifier:  notifier,
		currency:  currency,
	}
}

// Request opens a refund against a paid order, reserving its amount so that
// concurrent requests cannot collectively overdraw the order.
func (s *RefundService) Request(ctx context.Context, orderID string, amountMinor int64, reason, requestedBy string) (*models.Refund, error) {
	if amountMinor <= 0 {
		return nil, fmt.Errorf("refund amount must be positive: %w", status.ErrInvalidAmount)
	}

	nowDT := types.NowDateTime()

	res, err := s.db.NewQuery(`
		UPDATE orders
		SET refund_reserved_minor = refund_reserved_minor + {:amt}, updated = {:now}
		WHERE id = {:id}
		AND status IN ('paid', 'partially_refunded')
		AND refunded_amount_minor + refund_reserved_minor + {:amt} <= total_amount_minor
	`).Bind(dbx.Params{"id": orderID, "amt": amountMinor, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.requestConflict(ctx, orderID, amountMinor)
	}

	refund := &models.Refund{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		AmountMinor: amountMinor,
		Status:      models.RefundRequested,
		Reason:      reason,
		RequestedBy: requestedBy,
		Created:     nowDT,
		Updated:     nowDT,
	}

	_, err = s.db.Insert("refunds", dbx.Params{
		"id":           refund.ID,
		"order_id":     refund.OrderID,
		"amount_minor": refund.AmountMinor,
		"status":       string(refund.Status),
		"reason":       refund.Reason,
		"requested_by": refund.RequestedBy,
		"approved_by":  "",
		"provider_ref": "",
		"created":      nowDT.String(),
		"updated":      nowDT.String(),
	}).WithContext(ctx).Execute()
	if err != nil {
		// Give the reservation back; the refund row never existed.
		s.releaseReservation(ctx, orderID, amountMinor)
		return nil, err
	}

	monitoring.TrackRefund("requested")
	return refund, nil
}

// Approve moves a requested refund to approved.
func (s *RefundService) Approve(ctx context.Context, refundID, approvedBy string) (*models.Refund, error) {
	nowDT := types.NowDateTime()

	res, err := s.db.NewQuery(`
		UPDATE refunds
		SET status = 'approved', approved_by = {:by}, updated = {:now}
		WHERE id = {:id} AND status = 'requested'
	`).Bind(dbx.Params{"id": refundID, "by": approvedBy, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		refund, err := s.Get(ctx, refundID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("refund %s is %s: %w", refundID, refund.Status, status.ErrStatusConflict)
	}
	return s.Get(ctx, refundID)
}

// Process executes a refund through the payment provider. The processing CAS
// makes sure two workers never call the provider for the same refund, and the
// provider call itself runs outside any lock behind the circuit breaker.
func (s *RefundService) Process(ctx context.Context, refundID string) (*models.Refund, error) {
	refund, err := s.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}

	nowDT := types.NowDateTime()
	res, err := s.db.NewQuery(`
		UPDATE refunds
		SET status = 'processing', updated = {:now}
		WHERE id = {:id} AND status IN ('requested', 'approved')
	`).Bind(dbx.Params{"id": refundID, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		current, err := s.Get(ctx, refundID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("refund %s is %s: %w", refundID, current.Status, status.ErrStatusConflict)
	}

	order, err := s.loadOrder(ctx, refund.OrderID)
	if err != nil {
		return nil, err
	}

	result, callErr := s.callProvider(ctx, refund, order)
	if callErr != nil {
		if err := s.markFailed(ctx, refund); err != nil {
			slog.Error("marking refund failed", "refund_id", refundID, "error", err)
		}
		monitoring.TrackRefund("failed")
		return nil, fmt.Errorf("refund %s: %w", refundID, callErr)
	}

	if err := s.complete(ctx, refund, result.ProviderRef); err != nil {
		return nil, err
	}

	monitoring.TrackRefund("completed")
	if s.notifier != nil {
		s.notifier.NotifyUser(order.UserID, map[string]any{
			"type":         "refund_completed",
			"order_id":     order.ID,
			"refund_id":    refund.ID,
			"amount_minor": refund.AmountMinor,
		})
	}

	return s.Get(ctx, refundID)
}

// ForceRefund opens and immediately processes a refund, bypassing the manual
// approval step. AmountMinor of zero means the order's full remaining
// refundable balance.
func (s *RefundService) ForceRefund(ctx context.Context, orderID string, amountMinor int64, reason, requestedBy string) (*models.Refund, error) {
	if amountMinor == 0 {
		order, err := s.loadOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		amountMinor = order.RefundableMinor()
		if amountMinor <= 0 {
			return nil, fmt.Errorf("order %s has no refundable balance: %w", orderID, status.ErrRefundExceedsBalance)
		}
	}

	refund, err := s.Request(ctx, orderID, amountMinor, reason, requestedBy)
	if err != nil {
		return nil, err
	}
	return s.Process(ctx, refund.ID)
}

// Get loads a refund by id.
func (s *RefundService) Get(ctx context.Context, id string) (*models.Refund, error) {
	refund := &models.Refund{}
	err := s.db.Select(
		"id", "order_id", "amount_minor", "status", "reason",
		"requested_by", "approved_by", "provider_ref", "created", "updated",
	).From("refunds").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(refund)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refund %s: %w", id, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return refund, nil
}

// ListByOrder returns an order's refunds, oldest first.
func (s *RefundService) ListByOrder(ctx context.Context, orderID string) ([]models.Refund, error) {
	refunds := []models.Refund{}
	err := s.db.Select(
		"id", "order_id", "amount_minor", "status", "reason",
		"requested_by", "approved_by", "provider_ref", "created", "updated",
	).From("refunds").Where(dbx.HashExp{"order_id": orderID}).OrderBy("created ASC").
		WithContext(ctx).All(&refunds)
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (s *RefundService) callProvider(ctx context.Context, refund *models.Refund, order *models.Order) (*provider.RefundResult, error) {
	p, err := s.providers.Primary()
	if err != nil {
		return nil, err
	}

	req := &provider.RefundRequest{
		RefundID:    refund.ID,
		ExternalRef: order.ExternalRef,
		Amount:      decimal.New(refund.AmountMinor, -2),
		Currency:    s.currency,
		Reason:      refund.Reason,
	}

	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return p.Refund(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrProviderFailure)
	}
	return result.(*provider.RefundResult), nil
}

// complete records the provider confirmation and moves the reserved amount
// into the order's refunded total, flipping the order to refunded once the
// whole total is returned.
func (s *RefundService) complete(ctx context.Context, refund *models.Refund, providerRef string) error {
	nowDT := types.NowDateTime()

	_, err := s.db.NewQuery(`
		UPDATE refunds
		SET status = 'completed', provider_ref = {:ref}, updated = {:now}
		WHERE id = {:id} AND status = 'processing'
	`).Bind(dbx.Params{"id": refund.ID, "ref": providerRef, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}

	_, err = s.db.NewQuery(`
		UPDATE orders
		SET refunded_amount_minor = refunded_amount_minor + {:amt},
			refund_reserved_minor = refund_reserved_minor - {:amt},
			status = CASE
				WHEN refunded_amount_minor + {:amt} >= total_amount_minor THEN 'refunded'
				ELSE 'partially_refunded'
			END,
			updated = {:now}
		WHERE id = {:id} AND status IN ('paid', 'partially_refunded')
	`).Bind(dbx.Params{"id": refund.OrderID, "amt": refund.AmountMinor, "now": nowDT.String()}).WithContext(ctx).Execute()
	return err
}

func (s *RefundService) markFailed(ctx context.Context, refund *models.Refund) error {
	nowDT := types.NowDateTime()

	_, err := s.db.NewQuery(`
		UPDATE refunds
		SET status = 'failed', updated = {:now}
		WHERE id = {:id} AND status = 'processing'
	`).Bind(dbx.Params{"id": refund.ID, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		return err
	}

	s.releaseReservation(ctx, refund.OrderID, refund.AmountMinor)
	return nil
}

func (s *RefundService) releaseReservation(ctx context.Context, orderID string, amountMinor int64) {
	nowDT := types.NowDateTime()

	_, err := s.db.NewQuery(`
		UPDATE orders
		SET refund_reserved_minor = refund_reserved_minor - {:amt}, updated = {:now}
		WHERE id = {:id} AND refund_reserved_minor >= {:amt}
	`).Bind(dbx.Params{"id": orderID, "amt": amountMinor, "now": nowDT.String()}).WithContext(ctx).Execute()
	if err != nil {
		slog.Error("releasing refund reservation failed", "order_id", orderID, "amount", amountMinor, "error", err)
	}
}

func (s *RefundService) requestConflict(ctx context.Context, orderID string, amountMinor int64) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderPaid && order.Status != models.OrderPartiallyRefunded {
		return fmt.Errorf("order %s is %s: %w", orderID, order.Status, status.ErrStatusConflict)
	}
	return fmt.Errorf("refund of %d exceeds remaining balance %d on order %s: %w",
		amountMinor, order.RefundableMinor(), orderID, status.ErrRefundExceedsBalance)
}

func (s *RefundService) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.Select(
		"id", "user_id", "event_id", "status",
		"total_amount_minor", "refunded_amount_minor", "refund_reserved_minor",
		"payment_method", "external_ref", "reservation_id",
		"created", "updated",
	).From("orders").Where(dbx.HashExp{"id": orderID}).WithContext(ctx).One(order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, status.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}
