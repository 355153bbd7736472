// Package pricing computes cart totals. Two strategies exist: the
// buy-one-get-two promotion and percentage coupons. A cart is priced by
// exactly one of them, selected by store configuration.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dmereles/vitrine/internal/cart"
)

// Line is one priced cart line with resolved catalog snapshots.
type Line struct {
	Key          cart.LineKey
	Name         string
	VariantLabel string
	UnitPrice    decimal.Decimal
	Quantity     int
	Subtotal     decimal.Decimal
}

// SkippedLine records a cart line that could not be priced. Skips are
// best-effort by policy: the rest of the cart is still priced, and the
// caller decides whether to surface them.
type SkippedLine struct {
	Key    cart.LineKey
	Reason error
}

// Result is the outcome of pricing a cart. All amounts are rounded to two
// decimal places. Skipped lines are reported, never silently dropped.
type Result struct {
	Lines    []Line
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
	Skipped  []SkippedLine
}

// Options carries per-request pricing inputs that are not part of the cart
// mapping itself.
type Options struct {
	// CouponCode is the applied coupon, if any. Only the coupon strategy
	// reads it; the promo strategy ignores it (the two are alternatives,
	// never combined).
	CouponCode string
}

// Strategy prices a cart snapshot. An empty cart yields a zero Result and
// no error.
type Strategy interface {
	Price(ctx context.Context, c cart.Cart, opts Options) (Result, error)
}
