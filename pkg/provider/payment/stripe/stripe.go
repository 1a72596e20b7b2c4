// Package stripe provides a payment processor backed by the Stripe API.
package stripe

import (
	"context"
	"fmt"

	stripelib "github.com/stripe/stripe-go/v84"

	"github.com/voxkiosk/voxkiosk/pkg/provider/payment"
)

// Processor implements payment.Processor using Stripe PaymentIntents.
type Processor struct {
	client        *stripelib.Client
	paymentMethod string
}

// Compile-time interface assertion.
var _ payment.Processor = (*Processor)(nil)

// Option is a functional option for Processor.
type Option func(*Processor)

// WithPaymentMethod sets the payment method attached to every intent. Kiosks
// typically use a single terminal-bound method configured at deploy time.
func WithPaymentMethod(id string) Option {
	return func(p *Processor) {
		p.paymentMethod = id
	}
}

// New constructs a Stripe payment processor.
func New(apiKey string, opts ...Option) (*Processor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripe: apiKey must not be empty")
	}
	p := &Processor{
		client: stripelib.NewClient(apiKey),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Charge implements payment.Processor. The intent is created and confirmed in
// one call; the idempotency key makes retries of the same logical charge safe.
func (p *Processor) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Receipt, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("stripe: currency must not be empty")
	}

	params := &stripelib.PaymentIntentCreateParams{
		Amount:   stripelib.Int64(req.Amount),
		Currency: stripelib.String(req.Currency),
		Confirm:  stripelib.Bool(true),
	}
	if p.paymentMethod != "" {
		params.PaymentMethod = stripelib.String(p.paymentMethod)
	}
	if req.Description != "" {
		params.Description = stripelib.String(req.Description)
	}
	if req.OrderID != "" {
		params.Metadata = map[string]string{"order_id": req.OrderID}
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripelib.String(req.IdempotencyKey)
	}

	intent, err := p.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	if intent.Status != stripelib.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("stripe: payment intent %s in status %s", intent.ID, intent.Status)
	}

	return &payment.Receipt{
		TransactionID: intent.ID,
		Amount:        intent.Amount,
		Currency:      string(intent.Currency),
	}, nil
}

// Refund implements payment.Processor.
func (p *Processor) Refund(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("stripe: transactionID must not be empty")
	}
	_, err := p.client.V1Refunds.Create(ctx, &stripelib.RefundCreateParams{
		PaymentIntent: stripelib.String(transactionID),
	})
	if err != nil {
		return fmt.Errorf("stripe: refund %s: %w", transactionID, err)
	}
	return nil
}

// Name implements payment.Processor.
func (p *Processor) Name() string {
	return "stripe"
}
