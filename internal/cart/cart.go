package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// Action enumerates the supported quantity mutations on a cart line.
type Action string

const (
	ActionIncrease Action = "increase"
	ActionDecrease Action = "decrease"
)

// ErrInvalidAction is returned when an update request carries an unknown action.
var ErrInvalidAction = errors.New("invalid cart action")

// LineKey identifies a cart line by product and optional variant selection.
// VariantID is empty for products without variants.
type LineKey struct {
	ProductID string
	VariantID string
}

// Cart is a point-in-time snapshot of a session's cart: line key to quantity.
// It is a plain value; the Store is the only persistence boundary.
type Cart map[LineKey]int

// IsEmpty reports whether the cart holds no lines.
func (c Cart) IsEmpty() bool {
	return len(c) == 0
}

// TotalQuantity returns the sum of quantities across all lines.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, qty := range c {
		total += qty
	}
	return total
}

// Store persists session-scoped carts. Every mutation is durable immediately;
// there is no batching. Quantities are always >= 1: a decrease below 1
// removes the line.
type Store interface {
	// Add increments the quantity for key by one, creating the line if absent.
	Add(ctx context.Context, sessionID string, key LineKey) error
	// Update applies an increase or decrease to an existing line.
	// Decreasing a quantity of 1 removes the line. Updating an absent line
	// is a no-op.
	Update(ctx context.Context, sessionID string, key LineKey, action Action) error
	// Remove deletes the line if present, no-op otherwise.
	Remove(ctx context.Context, sessionID string, key LineKey) error
	// Snapshot returns the full cart for pricing.
	Snapshot(ctx context.Context, sessionID string) (Cart, error)
	// Clear removes every line of the session. Called after a successful
	// checkout submission.
	Clear(ctx context.Context, sessionID string) error
}
