package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// Name identifies a payment provider integration.
type Name string

const (
	ProviderSandbox Name = "sandbox"
	ProviderStripe  Name = "stripe"
	ProviderAdyen   Name = "adyen"
)

// RefundRequest asks the provider to return money on a previously captured
// payment. Amounts are decimal at this boundary; the ledger keeps minor units.
type RefundRequest struct {
	RefundID    string          `json:"refund_id"`
	ExternalRef string          `json:"external_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reason      string          `json:"reason,omitempty"`
}

// RefundResult is the provider's acknowledgement of a refund.
type RefundResult struct {
	ProviderRef string `json:"provider_ref"`
}

// Provider is a payment rail the engine settles and refunds through.
type Provider interface {
	// GetName returns the provider identifier.
	GetName() Name

	// VerifySignature authenticates an incoming webhook payload.
	VerifySignature(payload []byte, signature string) error

	// Refund returns money on a captured payment. Idempotent on RefundID at
	// the provider side.
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)

	// Close releases any provider connections.
	Close(ctx context.Context) error
}
