package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/pricing"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrMissingUser   = errors.New("user is required")
	ErrNothingPriced = errors.New("no cart line could be priced")
)

// CheckoutRequest holds the input for materializing a cart into an order.
type CheckoutRequest struct {
	SessionID       string
	UserID          string
	FullName        string
	Email           string
	Phone           string
	ShippingAddress string
	// CouponCode is forwarded to the pricing strategy; only the coupon
	// strategy reads it.
	CouponCode string
}

// CheckoutResult holds the persisted order and the pricing breakdown it was
// built from, including any skipped cart lines.
type CheckoutResult struct {
	Order   *Order
	Items   []Item
	Pricing pricing.Result
}

// Service materializes carts into persisted orders at checkout time.
type Service struct {
	carts   cart.Store
	pricer  pricing.Strategy
	orders  Repository
	now     func() time.Time
	orderID func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(carts cart.Store, pricer pricing.Strategy, orders Repository) *Service {
	return &Service{
		carts:   carts,
		pricer:  pricer,
		orders:  orders,
		now:     time.Now,
		orderID: func() string { return uuid.New().String() },
	}
}

// Checkout snapshots the session's cart, prices it, persists one Order with
// status pending plus one Item per priced line in a single transaction, and
// clears the cart store for the session. The order total always equals the
// pricing subtotal minus discount at creation time.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.UserID == "" {
		return nil, ErrMissingUser
	}

	snapshot, err := s.carts.Snapshot(ctx, req.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot cart")
	}
	if snapshot.IsEmpty() {
		return nil, ErrEmptyCart
	}

	priced, err := s.pricer.Price(ctx, snapshot, pricing.Options{CouponCode: req.CouponCode})
	if err != nil {
		return nil, errors.Wrap(err, "price cart")
	}
	// Every line skipped means there is nothing to sell; creating a zero
	// order would be worse than rejecting the checkout.
	if len(priced.Lines) == 0 {
		return nil, ErrNothingPriced
	}

	now := s.now()
	o := &Order{
		ID:              s.orderID(),
		UserID:          req.UserID,
		FullName:        req.FullName,
		Email:           req.Email,
		Phone:           req.Phone,
		ShippingAddress: req.ShippingAddress,
		Total:           priced.Total,
		Discount:        priced.Discount,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	items := make([]Item, len(priced.Lines))
	for i, line := range priced.Lines {
		items[i] = Item{
			OrderID:      o.ID,
			ProductID:    line.Key.ProductID,
			ProductName:  line.Name,
			VariantLabel: line.VariantLabel,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
		}
	}

	if err := s.orders.CreateWithItems(ctx, o, items); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	// The cart is spent. A failed clear leaves stale lines behind but must
	// not fail the checkout: the order is already persisted.
	if err := s.carts.Clear(ctx, req.SessionID); err != nil {
		zctx.From(ctx).Error("clear cart after checkout",
			zap.String("session_id", req.SessionID),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}

	return &CheckoutResult{Order: o, Items: items, Pricing: priced}, nil
}
