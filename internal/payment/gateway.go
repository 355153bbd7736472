// Package payment defines the boundary to the external payment processor.
// The processor is opaque: it hosts the checkout page, generates Pix charges,
// and confirms payments asynchronously through webhook notifications.
package payment

import (
	"context"
	"fmt"

	"github.com/dmereles/vitrine/internal/order"
)

// Status is the processor-side payment state as reported by lookups.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Payment is the processor's view of a payment, fetched by id.
// ExternalReference carries the order id the payment was created with.
type Payment struct {
	ID                string
	Status            Status
	ExternalReference string
}

// Pix is a generated instant-payment charge: the copy-paste code and the
// QR image, base64-encoded.
type Pix struct {
	CopyPasteCode string
	QRCodeBase64  string
}

// GatewayError indicates the processor call did not report success. Callers
// must surface a retry path instead of failing the whole flow.
type GatewayError struct {
	Operation  string
	StatusCode int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s returned status %d", e.Operation, e.StatusCode)
}

// Gateway is the adapter to the external payment processor. All calls are
// synchronous blocking I/O with no automatic retry.
type Gateway interface {
	// CreateHostedCheckout submits the order as a hosted-checkout
	// preference and returns the processor-hosted payment page URL.
	CreateHostedCheckout(ctx context.Context, o *order.Order, items []order.Item) (string, error)
	// CreatePix submits a direct Pix payment request for the order's total
	// and returns the generated charge.
	CreatePix(ctx context.Context, o *order.Order) (Pix, error)
	// GetPayment fetches the current payment state by the processor's
	// payment id. Used by the webhook reconciler, which never trusts a
	// status embedded in the callback itself.
	GetPayment(ctx context.Context, id string) (Payment, error)
}
