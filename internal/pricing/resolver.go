package pricing

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
)

// resolver turns cart line keys into priced lines with catalog snapshots.
// Shared by both pricing strategies.
type resolver struct {
	products catalog.Repository
}

// line fetches the product and optional variant for a line key and builds
// the priced line.
func (r resolver) line(ctx context.Context, key cart.LineKey, qty int) (Line, *catalog.Product, error) {
	prod, err := r.products.GetByID(ctx, key.ProductID)
	if err != nil {
		return Line{}, nil, errors.Wrapf(err, "resolve product %s", key.ProductID)
	}

	var variant *catalog.Variant
	if key.VariantID != "" {
		variant, err = r.products.GetVariant(ctx, key.VariantID)
		if err != nil {
			return Line{}, nil, errors.Wrapf(err, "resolve variant %s", key.VariantID)
		}
	}

	unit := prod.UnitPrice(variant)
	label := ""
	if variant != nil {
		label = variant.Label
	}

	return Line{
		Key:          key,
		Name:         prod.Name,
		VariantLabel: label,
		UnitPrice:    unit,
		Quantity:     qty,
		Subtotal:     unit.Mul(decimal.NewFromInt(int64(qty))),
	}, prod, nil
}

// sortedKeys returns the cart's line keys in a stable order so pricing output
// is deterministic regardless of map iteration order.
func sortedKeys(c cart.Cart) []cart.LineKey {
	keys := make([]cart.LineKey, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return keys[i].VariantID < keys[j].VariantID
	})
	return keys
}
