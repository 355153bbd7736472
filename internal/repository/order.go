package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmereles/vitrine/internal/order"
)

const (
	createOrderSQL = `INSERT INTO orders
		(id, user_id, full_name, email, phone, shipping_address, total, discount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	createOrderItemSQL = `INSERT INTO order_items
		(order_id, product_id, product_name, variant_label, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderByIDSQL = `SELECT id, user_id, full_name, email, phone, shipping_address,
			total, discount, status, tracking_code, created_at, updated_at
		FROM orders WHERE id = $1`

	itemsByOrderSQL = `SELECT order_id, COALESCE(product_id, ''), product_name, variant_label, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id`

	// The single-statement conditional update is what makes concurrent
	// duplicate webhook deliveries safe: only one of them sees a row.
	updateStatusIfNotSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status <> $2 AND status <> $3`

	setTrackingCodeSQL = `UPDATE orders SET tracking_code = $2, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateWithItems persists the order and its items in one transaction.
func (r *OrderRepository) CreateWithItems(ctx context.Context, o *order.Order, items []order.Item) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.FullName, o.Email, o.Phone, o.ShippingAddress,
		o.Total, o.Discount, o.Status, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, item := range items {
		// An empty product id would violate the weak FK; store NULL instead.
		var productID *string
		if item.ProductID != "" {
			productID = &item.ProductID
		}
		_, err = tx.Exec(ctx, createOrderItemSQL,
			o.ID, productID, item.ProductName, item.VariantLabel, item.UnitPrice, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("creating item for order %q: %w", o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ItemsByOrder returns the order's items in insertion order.
func (r *OrderRepository) ItemsByOrder(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, itemsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var item order.Item
		err := row.Scan(&item.OrderID, &item.ProductID, &item.ProductName,
			&item.VariantLabel, &item.UnitPrice, &item.Quantity)
		return item, err
	})
}

// UpdateStatusIfNot atomically sets the status to next unless the current
// status already equals next or equals guard.
func (r *OrderRepository) UpdateStatusIfNot(ctx context.Context, id string, next, guard order.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, updateStatusIfNotSQL, id, next, guard)
	if err != nil {
		return false, fmt.Errorf("updating status of order %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetTrackingCode records an external shipping tracking code.
func (r *OrderRepository) SetTrackingCode(ctx context.Context, id, code string) error {
	tag, err := r.pool.Exec(ctx, setTrackingCodeSQL, id, code)
	if err != nil {
		return fmt.Errorf("setting tracking code of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.UserID, &o.FullName, &o.Email, &o.Phone, &o.ShippingAddress,
		&o.Total, &o.Discount, &o.Status, &o.TrackingCode, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
