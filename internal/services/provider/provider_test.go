package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-engine/internal/status"
)

func TestVerifyHMAC(t *testing.T) {
	secret := []byte("whsec_test")
	payload := []byte(`{"order_id":"ord1"}`)
	sig := SignPayload(secret, payload)

	assert.NoError(t, verifyHMAC(secret, payload, sig))
	assert.ErrorIs(t, verifyHMAC(secret, payload, "deadbeef"), status.ErrSignatureInvalid)
	assert.ErrorIs(t, verifyHMAC(secret, payload, "not-hex!"), status.ErrSignatureInvalid)
	assert.ErrorIs(t, verifyHMAC([]byte("other"), payload, sig), status.ErrSignatureInvalid)
}

func TestSandboxRefund_Idempotent(t *testing.T) {
	p := NewSandboxProvider("s")
	ctx := context.Background()

	req := &RefundRequest{RefundID: "rf1", ExternalRef: "pay_abc", Amount: decimal.New(6000, -2), Currency: "USD"}

	first, err := p.Refund(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ProviderRef)

	second, err := p.Refund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ProviderRef, second.ProviderRef)
}

func TestRESTRefund(t *testing.T) {
	var gotIdempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")

		req := RefundRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pay_abc", req.ExternalRef)

		json.NewEncoder(w).Encode(RefundResult{ProviderRef: "re_123"})
	}))
	defer srv.Close()

	p := NewRESTProvider(&RESTConfig{
		Name:    ProviderStripe,
		BaseURL: srv.URL,
		APIKey:  "sk_test",
	})

	result, err := p.Refund(context.Background(), &RefundRequest{
		RefundID:    "rf1",
		ExternalRef: "pay_abc",
		Amount:      decimal.New(6000, -2),
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_123", result.ProviderRef)
	assert.Equal(t, "rf1", gotIdempotencyKey)
}

func TestRESTRefund_ProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"already refunded"}`, http.StatusConflict)
	}))
	defer srv.Close()

	p := NewRESTProvider(&RESTConfig{Name: ProviderStripe, BaseURL: srv.URL})

	_, err := p.Refund(context.Background(), &RefundRequest{RefundID: "rf1"})
	assert.ErrorIs(t, err, status.ErrProviderFailure)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, err := r.Primary()
	assert.Error(t, err)

	sandbox := NewSandboxProvider("s")
	r.Register(sandbox)
	r.Register(NewRESTProvider(&RESTConfig{Name: ProviderStripe}))

	primary, err := r.Primary()
	require.NoError(t, err)
	assert.Equal(t, ProviderSandbox, primary.GetName())

	require.NoError(t, r.SetPrimary(ProviderStripe))
	primary, err = r.Primary()
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, primary.GetName())

	assert.Error(t, r.SetPrimary("unknown"))
	assert.ElementsMatch(t, []Name{ProviderSandbox, ProviderStripe}, r.Names())
}
