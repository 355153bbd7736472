package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmereles/vitrine/internal/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_percent, active, valid_from, valid_to, description
		FROM coupons WHERE code = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_percent, active, valid_from, valid_to, description)
		VALUES (UPPER($1), $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			discount_percent = EXCLUDED.discount_percent,
			active = EXCLUDED.active,
			valid_from = EXCLUDED.valid_from,
			valid_to = EXCLUDED.valid_to,
			description = EXCLUDED.description`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, case-insensitively. It returns
// coupon.ErrInvalidCoupon when no matching coupon exists; the validity
// window and active flag are checked by the validator, not here.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (coupon.Rule, error) {
		var c coupon.Rule
		err := row.Scan(&c.Code, &c.DiscountPercent, &c.Active, &c.ValidFrom, &c.ValidTo, &c.Description)
		return c, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// Upsert inserts or updates a coupon rule. Used by the ingest and seed
// commands.
func (r *CouponRepository) Upsert(ctx context.Context, rule coupon.Rule) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		rule.Code, rule.DiscountPercent, rule.Active, rule.ValidFrom, rule.ValidTo, rule.Description,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", rule.Code, err)
	}
	return nil
}
