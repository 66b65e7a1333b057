package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/services/provider"
	"ticket-engine/internal/status"
	"ticket-engine/models"
)

const testWebhookSecret = "whsec_test"

func newPaymentFixture(t *testing.T, withRedis bool) (*PaymentService, *OrderService, *dbx.DB, redismock.ClientMock) {
	db := newTestDB(t)
	inv := NewInventoryService(db)
	reservations := NewReservationService(db, inv, nil, 10*time.Minute, 30*time.Second)
	orders := NewOrderService(db, inv, reservations, NoopNotifier{})

	registry := provider.NewRegistry()
	registry.Register(provider.NewSandboxProvider(testWebhookSecret))

	if withRedis {
		client, mock := redismock.NewClientMock()
		return NewPaymentService(orders, registry, client), orders, db, mock
	}
	return NewPaymentService(orders, registry, nil), orders, db, nil
}

func signedPayload(t *testing.T, body WebhookPayload) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return payload, provider.SignPayload([]byte(testWebhookSecret), payload)
}

func createPendingOrder(t *testing.T, orders *OrderService, db *dbx.DB) *models.Order {
	t.Helper()
	seedTicketType(t, db, "tt_ga", 50, 3000)
	order, err := orders.CreateOrder(testCtx(t), CreateOrderInput{
		UserID:  "user1",
		EventID: "evt1",
		Items:   []models.OrderItem{{TicketTypeID: "tt_ga", Quantity: 2}},
	})
	require.NoError(t, err)
	return order
}

func TestConfirmWebhook_SettlesOrder(t *testing.T) {
	payments, orders, db, _ := newPaymentFixture(t, false)
	ctx := testCtx(t)
	order := createPendingOrder(t, orders, db)

	payload, sig := signedPayload(t, WebhookPayload{
		OrderID:     order.ID,
		ExternalRef: "pay_abc",
		AmountMinor: order.TotalAmountMinor,
		Method:      "card",
	})

	settled, err := payments.ConfirmWebhook(ctx, provider.ProviderSandbox, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, settled.Status)
	assert.Equal(t, 2, countTickets(t, db, order.ID))
}

func TestConfirmWebhook_BadSignature(t *testing.T) {
	payments, orders, db, _ := newPaymentFixture(t, false)
	ctx := testCtx(t)
	order := createPendingOrder(t, orders, db)

	payload, _ := signedPayload(t, WebhookPayload{OrderID: order.ID, ExternalRef: "pay_abc"})

	_, err := payments.ConfirmWebhook(ctx, provider.ProviderSandbox, payload, "deadbeef")
	assert.ErrorIs(t, err, status.ErrSignatureInvalid)
	assert.Equal(t, "pending_payment", orderStatus(t, db, order.ID))
}

func TestConfirmWebhook_AmountMismatch(t *testing.T) {
	payments, orders, db, _ := newPaymentFixture(t, false)
	ctx := testCtx(t)
	order := createPendingOrder(t, orders, db)

	payload, sig := signedPayload(t, WebhookPayload{
		OrderID:     order.ID,
		ExternalRef: "pay_abc",
		AmountMinor: order.TotalAmountMinor - 100,
	})

	_, err := payments.ConfirmWebhook(ctx, provider.ProviderSandbox, payload, sig)
	assert.ErrorIs(t, err, status.ErrInvalidAmount)
	assert.Equal(t, "pending_payment", orderStatus(t, db, order.ID))
}

func TestConfirmWebhook_RedeliveryIsIdempotent(t *testing.T) {
	payments, orders, db, _ := newPaymentFixture(t, false)
	ctx := testCtx(t)
	order := createPendingOrder(t, orders, db)

	payload, sig := signedPayload(t, WebhookPayload{OrderID: order.ID, ExternalRef: "pay_abc"})

	_, err := payments.ConfirmWebhook(ctx, provider.ProviderSandbox, payload, sig)
	require.NoError(t, err)

	again, err := payments.ConfirmWebhook(ctx, provider.ProviderSandbox, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, again.Status)
	assert.Equal(t, 2, countTickets(t, db, order.ID))
}

func TestConfirmWebhook_RedisFastPath(t *testing.T) {
	payments, orders, db, mock := newPaymentFixture(t, true)
	ctx := testCtx(t)
	order := createPendingOrder(t, orders, db)

	// Mark the order paid out-of-band so the fast path can short-circuit.
	_, err := db.Update("orders",
		dbx.Params{"status": "paid", "external_ref": "pay_abc"},
		dbx.HashExp{"id": order.ID}).Execute()
	require.NoError(t, err)

	payload, sig := signedPayload(t, WebhookPayload{OrderID: order.ID, ExternalRef: "pay_abc"})

	mock.ExpectSetNX("payment:confirm:pay_abc", order.ID, confirmGuardTTL).SetVal(false)

	settled, err := payments.ConfirmWebhook(ctx, provider.ProviderSandbox, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, settled.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmWebhook_GuardDroppedOnExpiredHold(t *testing.T) {
	payments, orders, db, mock := newPaymentFixture(t, true)
	ctx := testCtx(t)
	order := createPendingOrder(t, orders, db)

	// Expire the hold before the confirmation arrives.
	_, err := db.NewQuery(`UPDATE reservations SET expires_at = '2000-01-01 00:00:00.000Z'`).Execute()
	require.NoError(t, err)

	payload, sig := signedPayload(t, WebhookPayload{OrderID: order.ID, ExternalRef: "pay_late"})

	mock.ExpectSetNX("payment:confirm:pay_late", order.ID, confirmGuardTTL).SetVal(true)
	mock.ExpectDel("payment:confirm:pay_late").SetVal(1)

	_, err = payments.ConfirmWebhook(ctx, provider.ProviderSandbox, payload, sig)
	assert.ErrorIs(t, err, status.ErrReservationExpired)
	assert.Equal(t, "failed", orderStatus(t, db, order.ID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmCash(t *testing.T) {
	payments, orders, db, _ := newPaymentFixture(t, false)
	ctx := testCtx(t)
	order := createPendingOrder(t, orders, db)

	settled, err := payments.ConfirmCash(ctx, order.ID, "operator7")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, settled.Status)
	assert.Equal(t, "cash:"+order.ID, settled.ExternalRef)
	assert.Equal(t, 2, countTickets(t, db, order.ID))

	// Confirming twice returns the settled order.
	again, err := payments.ConfirmCash(ctx, order.ID, "operator7")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, again.Status)
}
