package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
	"github.com/dmereles/vitrine/internal/coupon"
)

type fakeCatalog struct {
	products map[string]catalog.Product
	variants map[string]catalog.Variant
}

var _ catalog.Repository = (*fakeCatalog)(nil)

func (f *fakeCatalog) List(context.Context) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (f *fakeCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetVariant(_ context.Context, id string) (*catalog.Variant, error) {
	v, ok := f.variants[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &v, nil
}

func (f *fakeCatalog) Search(context.Context, string) ([]catalog.Product, error) {
	return nil, nil
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[string]catalog.Product{
			"phone":   {ID: "phone", Name: "Smartphone", Price: price("2500.00"), PromoBuyOneGetTwo: true},
			"buds":    {ID: "buds", Name: "Earbuds", Price: price("1000.00"), PromoBuyOneGetTwo: true},
			"charger": {ID: "charger", Name: "Charger", Price: price("1500.00"), PromoBuyOneGetTwo: true},
			"tablet":  {ID: "tablet", Name: "Tablet", Price: price("1899.90")},
		},
		variants: map[string]catalog.Variant{
			"phone-256": {ID: "phone-256", ProductID: "phone", Label: "256GB", PriceDelta: price("300.00")},
		},
	}
}

func TestPromoPricerEmptyCart(t *testing.T) {
	p := NewPromoPricer(testCatalog())

	res, err := p.Price(context.Background(), cart.Cart{}, Options{})
	require.NoError(t, err)
	require.Empty(t, res.Lines)
	require.True(t, res.Total.IsZero())
}

func TestPromoPricerCheapestUnitFree(t *testing.T) {
	p := NewPromoPricer(testCatalog())
	c := cart.Cart{
		{ProductID: "phone"}:   1,
		{ProductID: "buds"}:    1,
		{ProductID: "charger"}: 1,
	}

	res, err := p.Price(context.Background(), c, Options{})
	require.NoError(t, err)

	// Three promo units: floor(3/2) = 1 free, the cheapest one.
	require.Equal(t, "5000", res.Subtotal.String())
	require.Equal(t, "1000", res.Discount.String())
	require.Equal(t, "4000", res.Total.String())
}

func TestPromoPricerCountsUnitsNotLines(t *testing.T) {
	p := NewPromoPricer(testCatalog())
	c := cart.Cart{{ProductID: "buds"}: 4}

	res, err := p.Price(context.Background(), c, Options{})
	require.NoError(t, err)

	// Four units on a single line: two of them free.
	require.Equal(t, "4000", res.Subtotal.String())
	require.Equal(t, "2000", res.Discount.String())
	require.Equal(t, "2000", res.Total.String())
}

func TestPromoPricerSingleUnitNoDiscount(t *testing.T) {
	p := NewPromoPricer(testCatalog())
	c := cart.Cart{{ProductID: "phone"}: 1}

	res, err := p.Price(context.Background(), c, Options{})
	require.NoError(t, err)
	require.True(t, res.Discount.IsZero())
	require.Equal(t, "2500", res.Total.String())
}

func TestPromoPricerIgnoresNonPromoProducts(t *testing.T) {
	p := NewPromoPricer(testCatalog())
	c := cart.Cart{
		{ProductID: "tablet"}: 2,
		{ProductID: "buds"}:   1,
	}

	res, err := p.Price(context.Background(), c, Options{})
	require.NoError(t, err)

	// Only one promo unit in the cart, so nothing is free.
	require.True(t, res.Discount.IsZero())
	require.Equal(t, "4799.8", res.Total.String())
}

func TestPromoPricerVariantDelta(t *testing.T) {
	p := NewPromoPricer(testCatalog())
	c := cart.Cart{{ProductID: "phone", VariantID: "phone-256"}: 2}

	res, err := p.Price(context.Background(), c, Options{})
	require.NoError(t, err)

	require.Len(t, res.Lines, 1)
	require.Equal(t, "256GB", res.Lines[0].VariantLabel)
	require.Equal(t, "2800", res.Lines[0].UnitPrice.String())
	// Second unit of a pair is free, at the variant-adjusted price.
	require.Equal(t, "2800", res.Discount.String())
	require.Equal(t, "2800", res.Total.String())
}

func TestPromoPricerSkipsUnknownLines(t *testing.T) {
	p := NewPromoPricer(testCatalog())
	c := cart.Cart{
		{ProductID: "phone"}: 1,
		{ProductID: "gone"}:  3,
	}

	res, err := p.Price(context.Background(), c, Options{})
	require.NoError(t, err)

	require.Len(t, res.Lines, 1)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, "gone", res.Skipped[0].Key.ProductID)
	require.ErrorIs(t, res.Skipped[0].Reason, catalog.ErrNotFound)
	require.Equal(t, "2500", res.Total.String())
}

type fakeCouponRepo struct {
	rules map[string]coupon.Rule
}

func (f *fakeCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	r, ok := f.rules[code]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &r, nil
}

func testValidator(rules map[string]coupon.Rule) *coupon.Validator {
	return coupon.NewValidator(&fakeCouponRepo{rules: rules})
}

func TestCouponPricerNoCode(t *testing.T) {
	p := NewCouponPricer(testCatalog(), testValidator(nil))
	c := cart.Cart{{ProductID: "tablet"}: 1}

	res, err := p.Price(context.Background(), c, Options{})
	require.NoError(t, err)
	require.True(t, res.Discount.IsZero())
	require.Equal(t, "1899.9", res.Total.String())
}

func TestCouponPricerPercentage(t *testing.T) {
	p := NewCouponPricer(testCatalog(), testValidator(map[string]coupon.Rule{
		"DEZ": {Code: "DEZ", DiscountPercent: price("10"), Active: true},
	}))
	c := cart.Cart{{ProductID: "tablet"}: 1}

	res, err := p.Price(context.Background(), c, Options{CouponCode: "DEZ"})
	require.NoError(t, err)

	// 10% of 1899.90 is 189.99 exactly.
	require.Equal(t, "189.99", res.Discount.StringFixed(2))
	require.Equal(t, "1709.91", res.Total.StringFixed(2))
}

func TestCouponPricerRoundsHalfUp(t *testing.T) {
	p := NewCouponPricer(testCatalog(), testValidator(map[string]coupon.Rule{
		"QUINZE": {Code: "QUINZE", DiscountPercent: price("15"), Active: true},
	}))
	c := cart.Cart{{ProductID: "tablet"}: 1}

	res, err := p.Price(context.Background(), c, Options{CouponCode: "QUINZE"})
	require.NoError(t, err)

	// 15% of 1899.90 is 284.985, which rounds half-up to 284.99.
	require.Equal(t, "284.99", res.Discount.StringFixed(2))
	require.Equal(t, "1614.91", res.Total.StringFixed(2))
}

func TestCouponPricerInvalidCode(t *testing.T) {
	p := NewCouponPricer(testCatalog(), testValidator(nil))
	c := cart.Cart{{ProductID: "tablet"}: 1}

	_, err := p.Price(context.Background(), c, Options{CouponCode: "NOPE"})
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
}

func TestCouponPricerExpiredCode(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	p := NewCouponPricer(testCatalog(), testValidator(map[string]coupon.Rule{
		"VELHO": {Code: "VELHO", DiscountPercent: price("10"), Active: true, ValidTo: &past},
	}))
	c := cart.Cart{{ProductID: "tablet"}: 1}

	_, err := p.Price(context.Background(), c, Options{CouponCode: "VELHO"})
	require.ErrorIs(t, err, coupon.ErrCouponExpired)
}

func TestCouponPricerFullDiscountFloorsAtZero(t *testing.T) {
	p := NewCouponPricer(testCatalog(), testValidator(map[string]coupon.Rule{
		"TUDO": {Code: "TUDO", DiscountPercent: price("100"), Active: true},
	}))
	c := cart.Cart{{ProductID: "buds"}: 1}

	res, err := p.Price(context.Background(), c, Options{CouponCode: "TUDO"})
	require.NoError(t, err)
	require.True(t, res.Total.IsZero())
}
