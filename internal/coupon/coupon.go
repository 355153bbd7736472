package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or inactive.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its validity window.
	ErrCouponExpired = errors.New("coupon expired")
)

// Rule defines a percentage coupon and its eligibility constraints.
// DiscountPercent is in the range [0, 100].
type Rule struct {
	Code            string
	DiscountPercent decimal.Decimal
	Active          bool
	ValidFrom       *time.Time
	ValidTo         *time.Time
	Description     string
}

// Repository provides lookup of coupon rules by their code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

// Validator resolves a coupon code to an applicable Rule, checking the
// active flag and validity window.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Resolve looks up the rule for code and checks that it is currently usable.
// It returns ErrInvalidCoupon for unknown or inactive codes and
// ErrCouponExpired for codes outside their validity window.
func (v *Validator) Resolve(ctx context.Context, code string) (*Rule, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !rule.Active {
		return nil, ErrInvalidCoupon
	}

	now := v.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if rule.ValidTo != nil && now.After(*rule.ValidTo) {
		return nil, ErrCouponExpired
	}

	return rule, nil
}
