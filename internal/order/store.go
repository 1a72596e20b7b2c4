package order

import "context"

// Store persists orders across the session lifecycle.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveOrder inserts or fully replaces an order.
	SaveOrder(ctx context.Context, o *Order) error

	// GetOrder fetches an order by ID. Returns (nil, nil) when absent.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// OpenOrderForSession returns the session's current open order, or
	// (nil, nil) when the session has none.
	OpenOrderForSession(ctx context.Context, sessionID string) (*Order, error)
}

// MenuMatch is one semantic menu search hit.
type MenuMatch struct {
	// MenuItemID references the menu catalog entry.
	MenuItemID string

	// Distance is the cosine distance to the query, smaller is closer.
	Distance float64
}

// MenuIndex is a vector index over menu item names and descriptions, used to
// resolve spoken item references that miss every exact name and alias.
//
// Implementations must be safe for concurrent use.
type MenuIndex interface {
	// IndexMenuItem upserts one menu item's embedding.
	IndexMenuItem(ctx context.Context, itemID string, embedding []float32) error

	// SearchMenu returns the topK closest items to the query embedding,
	// most similar first.
	SearchMenu(ctx context.Context, embedding []float32, topK int) ([]MenuMatch, error)
}
