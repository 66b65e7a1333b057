package provider

import (
	"context"
	"fmt"
	"sync"

	"ticket-engine/utils"
)

// SandboxProvider settles everything locally. Used in development and in the
// cash path, where no external rail is involved.
type SandboxProvider struct {
	webhookSecret []byte

	mu      sync.Mutex
	refunds map[string]*RefundResult
}

func NewSandboxProvider(webhookSecret string) *SandboxProvider {
	return &SandboxProvider{
		webhookSecret: []byte(webhookSecret),
		refunds:       make(map[string]*RefundResult),
	}
}

func (p *SandboxProvider) GetName() Name {
	return ProviderSandbox
}

func (p *SandboxProvider) VerifySignature(payload []byte, signature string) error {
	return verifyHMAC(p.webhookSecret, payload, signature)
}

func (p *SandboxProvider) Refund(_ context.Context, req *RefundRequest) (*RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.refunds[req.RefundID]; ok {
		return prev, nil
	}

	code, err := utils.GenerateCode(12)
	if err != nil {
		return nil, err
	}
	result := &RefundResult{
		ProviderRef: fmt.Sprintf("sbx_rf_%s", code),
	}
	p.refunds[req.RefundID] = result
	return result, nil
}

func (p *SandboxProvider) Close(context.Context) error {
	return nil
}
