// Package payment defines the Processor interface for charging completed
// orders.
//
// The dialogue layer invokes a Processor exactly once per confirmed payment.
// Implementors must honor the idempotency key so that a retried call after a
// network failure cannot double-charge the customer.
package payment

import "context"

// ChargeRequest describes one payment to execute.
type ChargeRequest struct {
	// Amount is the total in the currency's smallest unit. KRW has no minor
	// unit, so this is whole won.
	Amount int64

	// Currency is the ISO 4217 code, lowercase (e.g. "krw").
	Currency string

	// OrderID ties the charge back to the kiosk order.
	OrderID string

	// Description appears on the customer receipt.
	Description string

	// IdempotencyKey deduplicates retries of the same logical charge.
	// Callers must reuse the same key when retrying.
	IdempotencyKey string
}

// Receipt is the outcome of a successful charge.
type Receipt struct {
	// TransactionID is the processor-assigned identifier, used for refunds.
	TransactionID string

	// Amount and Currency echo what was actually charged.
	Amount   int64
	Currency string
}

// Processor is the abstraction over any payment backend.
//
// Implementations must be safe for concurrent use.
type Processor interface {
	// Charge executes one payment and returns a receipt.
	Charge(ctx context.Context, req ChargeRequest) (*Receipt, error)

	// Refund reverses a previously successful charge in full.
	Refund(ctx context.Context, transactionID string) error

	// Name identifies the backend for logging and metrics.
	Name() string
}
