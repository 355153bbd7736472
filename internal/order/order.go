package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the order payment state. pending is the only non-terminal state;
// paid and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is a persisted purchase. Contact and address fields are snapshots
// taken at checkout; catalog edits after the fact never change an order.
type Order struct {
	ID              string
	UserID          string
	FullName        string
	Email           string
	Phone           string
	ShippingAddress string
	Total           decimal.Decimal
	Discount        decimal.Decimal
	Status          Status
	TrackingCode    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is one order line with pricing snapshots. ProductID is a weak
// reference: the product may be deleted later, hence the denormalized name
// and variant label. Items are immutable after creation.
type Item struct {
	OrderID      string
	ProductID    string
	ProductName  string
	VariantLabel string
	UnitPrice    decimal.Decimal
	Quantity     int
}

// Repository defines persistence operations for orders.
type Repository interface {
	// CreateWithItems persists the order and all its items in a single
	// transaction: either everything is written or nothing is.
	CreateWithItems(ctx context.Context, o *Order, items []Item) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ItemsByOrder(ctx context.Context, orderID string) ([]Item, error)
	// UpdateStatusIfNot atomically sets the order's status to next unless
	// the current status already equals next or equals guard. It reports
	// whether a row was updated. This compare-and-set is the idempotence
	// primitive for the webhook reconciler under concurrent duplicate
	// delivery.
	UpdateStatusIfNot(ctx context.Context, id string, next, guard Status) (bool, error)
	// SetTrackingCode records an external shipping tracking code.
	SetTrackingCode(ctx context.Context, id, code string) error
}
