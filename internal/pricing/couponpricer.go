package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
	"github.com/dmereles/vitrine/internal/coupon"
)

var hundred = decimal.NewFromInt(100)

// CouponPricer applies a percentage coupon against the cart subtotal.
// It is the alternative to PromoPricer; a deployment configures one of them.
type CouponPricer struct {
	resolver
	coupons *coupon.Validator
}

// NewCouponPricer creates a CouponPricer reading from the given catalog and
// validating codes with the given validator.
func NewCouponPricer(products catalog.Repository, coupons *coupon.Validator) *CouponPricer {
	return &CouponPricer{
		resolver: resolver{products: products},
		coupons:  coupons,
	}
}

var _ Strategy = (*CouponPricer)(nil)

// Price resolves every cart line, accumulates the subtotal, and applies the
// coupon from opts when present. Percentage math can produce sub-cent values;
// the discount is rounded half-up to two places before the total is derived.
// Coupon validation failures are returned to the caller (the user chose the
// code and must see the rejection); unresolvable lines are skipped like in
// the promo strategy.
func (p *CouponPricer) Price(ctx context.Context, c cart.Cart, opts Options) (Result, error) {
	res := Result{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Total:    decimal.Zero,
	}
	if c.IsEmpty() {
		return res, nil
	}

	lg := zctx.From(ctx)

	for _, key := range sortedKeys(c) {
		qty := c[key]

		line, _, err := p.line(ctx, key, qty)
		if err != nil {
			lg.Warn("skipping unpriceable cart line",
				zap.String("product_id", key.ProductID),
				zap.String("variant_id", key.VariantID),
				zap.Error(err),
			)
			res.Skipped = append(res.Skipped, SkippedLine{Key: key, Reason: err})
			continue
		}

		res.Lines = append(res.Lines, line)
		res.Subtotal = res.Subtotal.Add(line.Subtotal)
	}

	res.Subtotal = res.Subtotal.Round(2)

	if opts.CouponCode != "" {
		rule, err := p.coupons.Resolve(ctx, opts.CouponCode)
		if err != nil {
			return Result{}, errors.Wrap(err, "apply coupon")
		}
		res.Discount = res.Subtotal.Mul(rule.DiscountPercent).Div(hundred).Round(2)
	}

	res.Total = res.Subtotal.Sub(res.Discount)
	if res.Total.IsNegative() {
		res.Total = decimal.Zero
	}

	return res, nil
}
