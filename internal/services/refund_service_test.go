package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/services/provider"
	"ticket-engine/internal/status"
	"ticket-engine/models"
)

type failingProvider struct{}

func (failingProvider) GetName() provider.Name { return "failing" }

func (failingProvider) VerifySignature([]byte, string) error { return nil }

func (failingProvider) Refund(context.Context, *provider.RefundRequest) (*provider.RefundResult, error) {
	return nil, status.ErrProviderFailure
}

func (failingProvider) Close(context.Context) error { return nil }

func newRefundFixture(t *testing.T, p provider.Provider) (*RefundService, *dbx.DB) {
	db := newTestDB(t)
	registry := provider.NewRegistry()
	registry.Register(p)
	return NewRefundService(db, registry, NoopNotifier{}, "USD"), db
}

func orderMoney(t *testing.T, db *dbx.DB, orderID string) (refunded, reserved int64) {
	t.Helper()
	row := struct {
		Refunded int64 `db:"refunded_amount_minor"`
		Reserved int64 `db:"refund_reserved_minor"`
	}{}
	err := db.Select("refunded_amount_minor", "refund_reserved_minor").
		From("orders").Where(dbx.HashExp{"id": orderID}).One(&row)
	require.NoError(t, err)
	return row.Refunded, row.Reserved
}

func TestRequest_ReservesAmount(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	refund, err := svc.Request(ctx, "ord1", 6000, "customer request", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.RefundRequested, refund.Status)

	refunded, reserved := orderMoney(t, db, "ord1")
	assert.Equal(t, int64(0), refunded)
	assert.Equal(t, int64(6000), reserved)
}

func TestRequest_RejectsOverdraw(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	_, err := svc.Request(ctx, "ord1", 6000, "first", "user1")
	require.NoError(t, err)

	// 6000 reserved + 5000 would exceed the 10000 total.
	_, err = svc.Request(ctx, "ord1", 5000, "second", "user1")
	assert.ErrorIs(t, err, status.ErrRefundExceedsBalance)

	// 4000 exactly fills the remainder.
	_, err = svc.Request(ctx, "ord1", 4000, "second", "user1")
	require.NoError(t, err)
}

func TestRequest_InvalidAmount(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	_, err := svc.Request(ctx, "ord1", 0, "zero", "user1")
	assert.ErrorIs(t, err, status.ErrInvalidAmount)
	_, err = svc.Request(ctx, "ord1", -100, "negative", "user1")
	assert.ErrorIs(t, err, status.ErrInvalidAmount)
}

func TestRequest_UnpaidOrder(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPendingOrder(t, db, "ord1")

	_, err := svc.Request(ctx, "ord1", 1000, "too early", "user1")
	assert.ErrorIs(t, err, status.ErrStatusConflict)
}

func TestRequest_ConcurrentNeverOverdraws(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	const requests = 10
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Request(ctx, "ord1", 3000, "race", "user1"); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	// Only three 3000 reservations fit into 10000.
	assert.Equal(t, int32(3), won.Load())
	_, reserved := orderMoney(t, db, "ord1")
	assert.Equal(t, int64(9000), reserved)
}

func TestProcess_CompletesAndSettlesLedger(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	refund, err := svc.Request(ctx, "ord1", 6000, "partial", "user1")
	require.NoError(t, err)
	refund, err = svc.Approve(ctx, refund.ID, "admin1")
	require.NoError(t, err)
	assert.Equal(t, models.RefundApproved, refund.Status)

	refund, err = svc.Process(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundCompleted, refund.Status)
	assert.NotEmpty(t, refund.ProviderRef)

	refunded, reserved := orderMoney(t, db, "ord1")
	assert.Equal(t, int64(6000), refunded)
	assert.Equal(t, int64(0), reserved)
	assert.Equal(t, "partially_refunded", orderStatus(t, db, "ord1"))

	// Refunding the remainder flips the order to fully refunded.
	final, err := svc.ForceRefund(ctx, "ord1", 4000, "remainder", "admin1")
	require.NoError(t, err)
	assert.Equal(t, models.RefundCompleted, final.Status)
	assert.Equal(t, "refunded", orderStatus(t, db, "ord1"))
}

func TestProcess_ProviderFailureReleasesReservation(t *testing.T) {
	svc, db := newRefundFixture(t, failingProvider{})
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	refund, err := svc.Request(ctx, "ord1", 6000, "partial", "user1")
	require.NoError(t, err)

	_, err = svc.Process(ctx, refund.ID)
	assert.ErrorIs(t, err, status.ErrProviderFailure)

	failed, err := svc.Get(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundFailed, failed.Status)

	refunded, reserved := orderMoney(t, db, "ord1")
	assert.Equal(t, int64(0), refunded)
	assert.Equal(t, int64(0), reserved)
	assert.Equal(t, "paid", orderStatus(t, db, "ord1"))

	// The freed headroom can be requested again.
	_, err = svc.Request(ctx, "ord1", 10000, "retry", "user1")
	require.NoError(t, err)
}

func TestProcess_OnlyOnce(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	refund, err := svc.Request(ctx, "ord1", 6000, "partial", "user1")
	require.NoError(t, err)
	_, err = svc.Process(ctx, refund.ID)
	require.NoError(t, err)

	_, err = svc.Process(ctx, refund.ID)
	assert.ErrorIs(t, err, status.ErrStatusConflict)

	refunded, _ := orderMoney(t, db, "ord1")
	assert.Equal(t, int64(6000), refunded)
}

func TestApprove_OnlyFromRequested(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	refund, err := svc.Request(ctx, "ord1", 6000, "partial", "user1")
	require.NoError(t, err)
	_, err = svc.Process(ctx, refund.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, refund.ID, "admin1")
	assert.ErrorIs(t, err, status.ErrStatusConflict)
}

func TestForceRefund_FullRemainderByDefault(t *testing.T) {
	svc, db := newRefundFixture(t, provider.NewSandboxProvider("s"))
	ctx := testCtx(t)
	seedPaidOrder(t, db, "ord1", 10000)

	refund, err := svc.ForceRefund(ctx, "ord1", 0, "event cancelled", "admin1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), refund.AmountMinor)
	assert.Equal(t, "refunded", orderStatus(t, db, "ord1"))

	_, err = svc.ForceRefund(ctx, "ord1", 0, "again", "admin1")
	assert.ErrorIs(t, err, status.ErrRefundExceedsBalance)
}
