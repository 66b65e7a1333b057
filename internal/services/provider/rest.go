package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ticket-engine/internal/status"
	"ticket-engine/monitoring"
)

// RESTConfig configures a provider reached over its HTTP refund API.
type RESTConfig struct {
	Name          Name
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// RESTProvider talks to a real payment rail's refund endpoint. Webhook
// authenticity is checked with the provider's shared HMAC secret.
type RESTProvider struct {
	name          Name
	baseURL       string
	apiKey        string
	webhookSecret []byte

	hc *http.Client
}

func NewRESTProvider(c *RESTConfig) *RESTProvider {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RESTProvider{
		name:          c.Name,
		baseURL:       c.BaseURL,
		apiKey:        c.APIKey,
		webhookSecret: []byte(c.WebhookSecret),

		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *RESTProvider) GetName() Name {
	return p.name
}

func (p *RESTProvider) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(p.webhookSecret, payload, signature)
}

func (p *RESTProvider) Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	started := time.Now()
	defer func() {
		monitoring.TrackProviderCall("refund", time.Since(started))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/refunds", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	// The provider deduplicates on this key, so a retried call cannot refund
	// twice.
	httpReq.Header.Set("Idempotency-Key", req.RefundID)

	resp, err := p.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s refund call: %v: %w", p.name, err, status.ErrProviderFailure)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s refund response: %v: %w", p.name, err, status.ErrProviderFailure)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s refund rejected (%d): %s: %w", p.name, resp.StatusCode, respBody, status.ErrProviderFailure)
	}

	result := &RefundResult{}
	if err := json.Unmarshal(respBody, result); err != nil {
		return nil, fmt.Errorf("%s refund response decode: %v: %w", p.name, err, status.ErrProviderFailure)
	}
	if result.ProviderRef == "" {
		return nil, fmt.Errorf("%s refund response missing provider_ref: %w", p.name, status.ErrProviderFailure)
	}
	return result, nil
}

func (p *RESTProvider) Close(context.Context) error {
	p.hc.CloseIdleConnections()
	return nil
}
