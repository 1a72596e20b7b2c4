// Package mock provides a test double for the payment.Processor interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxkiosk/voxkiosk/pkg/provider/payment"
)

// ChargeCall records a single invocation of Charge.
type ChargeCall struct {
	// Req is the request passed to Charge.
	Req payment.ChargeRequest
}

// Processor is a mock implementation of payment.Processor.
type Processor struct {
	mu sync.Mutex

	// ChargeFunc, if set, handles Charge calls. Otherwise ChargeReceipt and
	// ChargeErr are returned.
	ChargeFunc func(ctx context.Context, req payment.ChargeRequest) (*payment.Receipt, error)

	// ChargeReceipt is returned by Charge when ChargeFunc is nil. If nil, a
	// receipt echoing the request is synthesized.
	ChargeReceipt *payment.Receipt

	// ChargeErr, if non-nil, is returned by every Charge call.
	ChargeErr error

	// RefundErr, if non-nil, is returned by every Refund call.
	RefundErr error

	// ChargeCalls records every invocation of Charge in order.
	ChargeCalls []ChargeCall

	// RefundCalls records the transaction IDs passed to Refund in order.
	RefundCalls []string
}

// Charge records the call and returns the configured receipt.
func (p *Processor) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Receipt, error) {
	p.mu.Lock()
	p.ChargeCalls = append(p.ChargeCalls, ChargeCall{Req: req})
	fn := p.ChargeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ChargeErr != nil {
		return nil, p.ChargeErr
	}
	if p.ChargeReceipt != nil {
		return p.ChargeReceipt, nil
	}
	return &payment.Receipt{
		TransactionID: "mock-tx",
		Amount:        req.Amount,
		Currency:      req.Currency,
	}, nil
}

// Refund records the call and returns RefundErr.
func (p *Processor) Refund(_ context.Context, transactionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RefundCalls = append(p.RefundCalls, transactionID)
	return p.RefundErr
}

// Name returns "mock".
func (p *Processor) Name() string {
	return "mock"
}

// Reset clears all recorded calls. Thread-safe.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ChargeCalls = nil
	p.RefundCalls = nil
}

// Ensure Processor implements payment.Processor at compile time.
var _ payment.Processor = (*Processor)(nil)
