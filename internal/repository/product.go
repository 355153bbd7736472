package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmereles/vitrine/internal/catalog"
)

const (
	listProductsSQL = `SELECT id, name, description, price, category, promo_buy1get2
		FROM products ORDER BY id`

	getProductByIDSQL = `SELECT id, name, description, price, category, promo_buy1get2
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, description, price, category, promo_buy1get2
		FROM products WHERE id = ANY($1)`

	searchProductsSQL = `SELECT id, name, description, price, category, promo_buy1get2
		FROM products WHERE name ILIKE '%' || $1 || '%' OR category ILIKE '%' || $1 || '%'
		ORDER BY id`

	getVariantSQL = `SELECT id, product_id, label, price_delta
		FROM product_variants WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, description, price, category, promo_buy1get2)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			promo_buy1get2 = EXCLUDED.promo_buy1get2`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, label, price_delta)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			label = EXCLUDED.label,
			price_delta = EXCLUDED.price_delta`
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Search returns products whose name or category matches the query,
// case-insensitively.
func (r *ProductRepository) Search(ctx context.Context, query string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, searchProductsSQL, query)
	if err != nil {
		return nil, fmt.Errorf("searching products %q: %w", query, err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetVariant returns a single product variant by its identifier.
func (r *ProductRepository) GetVariant(ctx context.Context, id string) (*catalog.Variant, error) {
	rows, err := r.pool.Query(ctx, getVariantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (catalog.Variant, error) {
		var variant catalog.Variant
		err := row.Scan(&variant.ID, &variant.ProductID, &variant.Label, &variant.PriceDelta)
		return variant, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}
	return &v, nil
}

// Upsert inserts or updates a product. Used by the seeding tool.
func (r *ProductRepository) Upsert(ctx context.Context, p catalog.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.Category, p.PromoBuyOneGetTwo)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// UpsertVariant inserts or updates a product variant. Used by the seeding
// tool.
func (r *ProductRepository) UpsertVariant(ctx context.Context, v catalog.Variant) error {
	_, err := r.pool.Exec(ctx, upsertVariantSQL, v.ID, v.ProductID, v.Label, v.PriceDelta)
	if err != nil {
		return fmt.Errorf("upserting variant %q: %w", v.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.PromoBuyOneGetTwo)
	return p, err
}
