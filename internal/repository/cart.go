package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
)

const (
	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`
	variantExistsSQL = `SELECT EXISTS (SELECT 1 FROM product_variants WHERE id = $1 AND product_id = $2)`

	addCartLineSQL = `INSERT INTO cart_lines (session_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (session_id, product_id, variant_id)
		DO UPDATE SET quantity = cart_lines.quantity + 1, updated_at = now()`

	increaseCartLineSQL = `UPDATE cart_lines SET quantity = quantity + 1, updated_at = now()
		WHERE session_id = $1 AND product_id = $2 AND variant_id = $3`

	// Decrease is two statements: a line at quantity 1 is deleted first so
	// the decrement below never produces a zero-quantity row.
	deleteSingleLineSQL = `DELETE FROM cart_lines
		WHERE session_id = $1 AND product_id = $2 AND variant_id = $3 AND quantity = 1`

	decreaseCartLineSQL = `UPDATE cart_lines SET quantity = quantity - 1, updated_at = now()
		WHERE session_id = $1 AND product_id = $2 AND variant_id = $3 AND quantity > 1`

	removeCartLineSQL = `DELETE FROM cart_lines
		WHERE session_id = $1 AND product_id = $2 AND variant_id = $3`

	snapshotCartSQL = `SELECT product_id, variant_id, quantity
		FROM cart_lines WHERE session_id = $1`

	clearCartSQL = `DELETE FROM cart_lines WHERE session_id = $1`
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store backed by PostgreSQL. Every mutation is a
// single durable statement scoped to one session.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// Add increments the line's quantity by one, creating it if absent. An
// unknown product or variant fails with catalog.ErrNotFound.
func (s *CartStore) Add(ctx context.Context, sessionID string, key cart.LineKey) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, productExistsSQL, key.ProductID).Scan(&exists); err != nil {
		return fmt.Errorf("checking product %q: %w", key.ProductID, err)
	}
	if !exists {
		return errors.Wrapf(catalog.ErrNotFound, "product %s", key.ProductID)
	}

	if key.VariantID != "" {
		if err := s.pool.QueryRow(ctx, variantExistsSQL, key.VariantID, key.ProductID).Scan(&exists); err != nil {
			return fmt.Errorf("checking variant %q: %w", key.VariantID, err)
		}
		if !exists {
			return errors.Wrapf(catalog.ErrNotFound, "variant %s", key.VariantID)
		}
	}

	if _, err := s.pool.Exec(ctx, addCartLineSQL, sessionID, key.ProductID, key.VariantID); err != nil {
		return fmt.Errorf("adding cart line: %w", err)
	}
	return nil
}

// Update applies an increase or decrease to the line. Updates to absent
// lines are no-ops.
func (s *CartStore) Update(ctx context.Context, sessionID string, key cart.LineKey, action cart.Action) error {
	switch action {
	case cart.ActionIncrease:
		if _, err := s.pool.Exec(ctx, increaseCartLineSQL, sessionID, key.ProductID, key.VariantID); err != nil {
			return fmt.Errorf("increasing cart line: %w", err)
		}
	case cart.ActionDecrease:
		if _, err := s.pool.Exec(ctx, deleteSingleLineSQL, sessionID, key.ProductID, key.VariantID); err != nil {
			return fmt.Errorf("removing depleted cart line: %w", err)
		}
		if _, err := s.pool.Exec(ctx, decreaseCartLineSQL, sessionID, key.ProductID, key.VariantID); err != nil {
			return fmt.Errorf("decreasing cart line: %w", err)
		}
	default:
		return errors.Wrapf(cart.ErrInvalidAction, "%q", action)
	}
	return nil
}

// Remove deletes the line if present, no-op otherwise.
func (s *CartStore) Remove(ctx context.Context, sessionID string, key cart.LineKey) error {
	if _, err := s.pool.Exec(ctx, removeCartLineSQL, sessionID, key.ProductID, key.VariantID); err != nil {
		return fmt.Errorf("removing cart line: %w", err)
	}
	return nil
}

// Snapshot returns the session's full cart mapping.
func (s *CartStore) Snapshot(ctx context.Context, sessionID string) (cart.Cart, error) {
	rows, err := s.pool.Query(ctx, snapshotCartSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshotting cart: %w", err)
	}
	defer rows.Close()

	snapshot := make(cart.Cart)
	for rows.Next() {
		var (
			key cart.LineKey
			qty int
		)
		if err := rows.Scan(&key.ProductID, &key.VariantID, &qty); err != nil {
			return nil, fmt.Errorf("scanning cart line: %w", err)
		}
		snapshot[key] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cart lines: %w", err)
	}

	return snapshot, nil
}

// Clear removes every line of the session.
func (s *CartStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, clearCartSQL, sessionID); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}
	return nil
}
