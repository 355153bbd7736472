package pricing

import (
	"context"
	"sort"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
)

// PromoPricer applies the buy-one-get-two promotion: for every two units of
// promo-flagged products in the cart, the cheaper unit is free. With N promo
// units the discount is the sum of the floor(N/2) cheapest unit prices.
type PromoPricer struct {
	resolver
}

// NewPromoPricer creates a PromoPricer reading from the given catalog.
func NewPromoPricer(products catalog.Repository) *PromoPricer {
	return &PromoPricer{resolver{products: products}}
}

var _ Strategy = (*PromoPricer)(nil)

// Price resolves every cart line against the catalog, accumulates the
// subtotal, and discounts the cheaper half of all promotional units.
// Lines whose product or variant cannot be resolved are skipped and
// reported in Result.Skipped; pricing continues with the rest.
func (p *PromoPricer) Price(ctx context.Context, c cart.Cart, _ Options) (Result, error) {
	res := Result{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Total:    decimal.Zero,
	}
	if c.IsEmpty() {
		return res, nil
	}

	lg := zctx.From(ctx)

	// One entry per discrete promotional unit, not per line.
	var promoUnits []decimal.Decimal

	for _, key := range sortedKeys(c) {
		qty := c[key]

		line, prod, err := p.line(ctx, key, qty)
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

		if prod.PromoBuyOneGetTwo {
			for range qty {
				promoUnits = append(promoUnits, line.UnitPrice)
			}
		}
	}

	if len(promoUnits) >= 2 {
		sort.Slice(promoUnits, func(i, j int) bool {
			return promoUnits[i].LessThan(promoUnits[j])
		})
		free := len(promoUnits) / 2
		for _, price := range promoUnits[:free] {
			res.Discount = res.Discount.Add(price)
		}
	}

	res.Subtotal = res.Subtotal.Round(2)
	res.Discount = res.Discount.Round(2)
	res.Total = res.Subtotal.Sub(res.Discount)
	if res.Total.IsNegative() {
		res.Total = decimal.Zero
	}

	return res, nil
}
