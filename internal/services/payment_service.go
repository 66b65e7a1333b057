package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-engine/internal/services/provider"
	"ticket-engine/internal/status"
	"ticket-engine/models"
)

const confirmGuardTTL = 24 * time.Hour

// WebhookPayload is the provider's payment confirmation body.
type WebhookPayload struct {
	OrderID     string `json:"order_id" validate:"required"`
	ExternalRef string `json:"external_ref" validate:"required"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
}

// PaymentService turns verified provider confirmations and operator cash
// confirmations into order settlements. Idempotency has two layers: a Redis
// fast-path keyed on the external reference, and the order's own external_ref
// check inside Settle for when Redis is cold.
type PaymentService struct {
	orders    *OrderService
	providers *provider.Registry
	redis     *redis.Client
}

func NewPaymentService(orders *OrderService, providers *provider.Registry, redisClient *redis.Client) *PaymentService {
	return &PaymentService{
		orders:    orders,
		providers: providers,
		redis:     redisClient,
	}
}

// ConfirmWebhook authenticates and applies a provider payment confirmation.
// Redelivered webhooks return the already-settled order.
func (s *PaymentService) ConfirmWebhook(ctx context.Context, providerName provider.Name, payload []byte, signature string) (*models.Order, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	if err := p.VerifySignature(payload, signature); err != nil {
		return nil, err
	}

	body := WebhookPayload{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if body.OrderID == "" || body.ExternalRef == "" {
		return nil, fmt.Errorf("webhook payload missing order_id or external_ref")
	}

	if s.redis != nil {
		fresh, err := s.redis.SetNX(ctx, confirmGuardKey(body.ExternalRef), body.OrderID, confirmGuardTTL).Result()
		if err != nil {
			// Redis down degrades to the store-level check.
			slog.Error("payment confirm guard unavailable", "error", err)
		} else if !fresh {
			order, err := s.orders.GetOrder(ctx, body.OrderID)
			if err != nil {
				return nil, err
			}
			if order.Status == models.OrderPaid && order.ExternalRef == body.ExternalRef {
				return order, nil
			}
			// Guard claimed but the settlement never landed (crash between
			// SetNX and Settle). Fall through and settle for real.
		}
	}

	if body.AmountMinor > 0 {
		order, err := s.orders.GetOrder(ctx, body.OrderID)
		if err != nil {
			s.dropGuard(ctx, body.ExternalRef)
			return nil, err
		}
		if order.Status != models.OrderPaid && body.AmountMinor != order.TotalAmountMinor {
			s.dropGuard(ctx, body.ExternalRef)
			return nil, fmt.Errorf("confirmed amount %d does not match order total %d: %w",
				body.AmountMinor, order.TotalAmountMinor, status.ErrInvalidAmount)
		}
	}

	order, err := s.orders.Settle(ctx, body.OrderID, models.PaymentResult{
		ExternalRef: body.ExternalRef,
		Method:      body.Method,
	})
	if err != nil {
		// Leave the guard for terminal duplicates, drop it for transient
		// failures so the provider's retry can land.
		if !errors.Is(err, status.ErrAlreadyConfirmed) {
			s.dropGuard(ctx, body.ExternalRef)
		}
		return nil, err
	}
	return order, nil
}

// ConfirmCash settles an order paid at the box office. The operator's
// identity is the authorization; the synthetic external reference keeps the
// idempotency machinery uniform with webhooks.
func (s *PaymentService) ConfirmCash(ctx context.Context, orderID, operatorID string) (*models.Order, error) {
	order, err := s.orders.Settle(ctx, orderID, models.PaymentResult{
		ExternalRef: "cash:" + orderID,
		Method:      "cash",
		OperatorID:  operatorID,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("cash payment confirmed", "order_id", orderID, "operator_id", operatorID)
	return order, nil
}

func (s *PaymentService) dropGuard(ctx context.Context, externalRef string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, confirmGuardKey(externalRef)).Err(); err != nil {
		slog.Error("payment confirm guard cleanup failed", "external_ref", externalRef, "error", err)
	}
}

func confirmGuardKey(externalRef string) string {
	return "payment:confirm:" + externalRef
}
