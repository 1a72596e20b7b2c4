// Package order manages the kiosk's order lifecycle: building an order from
// resolved intents, matching spoken item names against the menu, and keeping
// the running total the payment flow charges against.
package order

import (
	"time"

	"github.com/google/uuid"
)

// Status describes where an order is in its lifecycle.
type Status int

const (
	// StatusOpen is an order still being assembled.
	StatusOpen Status = iota
	// StatusPaid is an order that completed payment.
	StatusPaid
	// StatusCancelled is an order the customer abandoned.
	StatusCancelled
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPaid:
		return "paid"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// LineItem is one menu item on an order.
type LineItem struct {
	// MenuItemID references the menu catalog entry.
	MenuItemID string

	// Name is the display name at the time of ordering.
	Name string

	// UnitPrice is the per-item price in whole won.
	UnitPrice int64

	// Quantity is how many of this item, always >= 1.
	Quantity int

	// Modification is a free-text customization ("콜라 대신 사이다").
	Modification string
}

// Subtotal returns UnitPrice times Quantity.
func (li LineItem) Subtotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Order is one customer's order, owned by a single session.
type Order struct {
	ID            string
	SessionID     string
	Items         []LineItem
	Status        Status
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder creates an empty open order for the given session.
func NewOrder(sessionID string) *Order {
	now := time.Now()
	return &Order{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Total returns the sum of all line item subtotals in whole won.
func (o *Order) Total() int64 {
	var total int64
	for _, li := range o.Items {
		total += li.Subtotal()
	}
	return total
}

// ItemCount returns the total number of units across all line items.
func (o *Order) ItemCount() int {
	var n int
	for _, li := range o.Items {
		n += li.Quantity
	}
	return n
}
