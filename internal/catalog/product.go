package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product or variant does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	// PromoBuyOneGetTwo marks the product as eligible for the
	// "every second unit free" promotion.
	PromoBuyOneGetTwo bool
}

// Variant is a selectable option of a product (color, lens, capacity).
// Its label is snapshotted into order items at checkout time.
type Variant struct {
	ID        string
	ProductID string
	Label     string
	// PriceDelta is added to the product's base price when this variant
	// is selected. Zero for plain color variants.
	PriceDelta decimal.Decimal
}

// UnitPrice returns the product price adjusted by the variant delta.
// A nil variant leaves the base price unchanged.
func (p Product) UnitPrice(v *Variant) decimal.Decimal {
	if v == nil {
		return p.Price
	}
	return p.Price.Add(v.PriceDelta)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	GetVariant(ctx context.Context, id string) (*Variant, error)
	Search(ctx context.Context, query string) ([]Product, error)
}
