// Package httpapi exposes the storefront over a JSON HTTP API.
package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
	"github.com/dmereles/vitrine/internal/order"
	"github.com/dmereles/vitrine/internal/payment"
	"github.com/dmereles/vitrine/internal/pricing"
	"github.com/dmereles/vitrine/internal/webhook"
)

// Header names for the session and user collaborators. Authentication itself
// is an external concern; the API trusts these opaque identifiers.
const (
	HeaderSessionID = "X-Session-ID"
	HeaderUserID    = "X-User-ID"
)

// Handler implements all HTTP endpoints, delegating business logic to the
// injected domain services.
type Handler struct {
	products   catalog.Repository
	carts      cart.Store
	pricer     pricing.Strategy
	checkout   *order.Service
	orders     order.Repository
	gateway    payment.Gateway
	reconciler *webhook.Reconciler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	products catalog.Repository,
	carts cart.Store,
	pricer pricing.Strategy,
	checkout *order.Service,
	orders order.Repository,
	gateway payment.Gateway,
	reconciler *webhook.Reconciler,
) *Handler {
	return &Handler{
		products:   products,
		carts:      carts,
		pricer:     pricer,
		checkout:   checkout,
		orders:     orders,
		gateway:    gateway,
		reconciler: reconciler,
	}
}

// Register mounts all routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)

	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("POST /api/cart/items", h.AddCartItem)
	mux.HandleFunc("PATCH /api/cart/items", h.UpdateCartItem)
	mux.HandleFunc("DELETE /api/cart/items", h.RemoveCartItem)

	mux.HandleFunc("POST /api/checkout", h.Checkout)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("PUT /api/orders/{id}/tracking", h.SetTracking)
	mux.HandleFunc("POST /api/orders/{id}/payments/hosted", h.CreateHostedPayment)
	mux.HandleFunc("POST /api/orders/{id}/payments/pix", h.CreatePixPayment)

	mux.HandleFunc("POST /webhooks/payment", h.PaymentWebhook)
}

// sessionID returns the caller's session id, minting a fresh one when the
// header is absent or not a UUID. The effective id is always echoed on the
// response so clients can persist it.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(HeaderSessionID)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.New().String()
	}
	w.Header().Set(HeaderSessionID, id)
	return id
}
