package httpapi

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
	"github.com/dmereles/vitrine/internal/coupon"
	"github.com/dmereles/vitrine/internal/pricing"
)

type cartItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Action    string `json:"action,omitempty"`
}

func (req cartItemRequest) key() cart.LineKey {
	return cart.LineKey{ProductID: req.ProductID, VariantID: req.VariantID}
}

type cartLineResponse struct {
	ProductID    string  `json:"productId"`
	VariantID    string  `json:"variantId,omitempty"`
	Name         string  `json:"name"`
	VariantLabel string  `json:"variantLabel,omitempty"`
	UnitPrice    float64 `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
	Subtotal     float64 `json:"subtotal"`
}

type cartResponse struct {
	Lines    []cartLineResponse `json:"lines"`
	Subtotal float64            `json:"subtotal"`
	Discount float64            `json:"discount"`
	Total    float64            `json:"total"`
	// SkippedLines counts cart entries that could not be priced, so
	// clients can surface a partial-cart warning.
	SkippedLines int `json:"skippedLines,omitempty"`
}

func toCartResponse(res pricing.Result) cartResponse {
	lines := make([]cartLineResponse, len(res.Lines))
	for i, l := range res.Lines {
		lines[i] = cartLineResponse{
			ProductID:    l.Key.ProductID,
			VariantID:    l.Key.VariantID,
			Name:         l.Name,
			VariantLabel: l.VariantLabel,
			UnitPrice:    l.UnitPrice.InexactFloat64(),
			Quantity:     l.Quantity,
			Subtotal:     l.Subtotal.InexactFloat64(),
		}
	}
	return cartResponse{
		Lines:        lines,
		Subtotal:     res.Subtotal.InexactFloat64(),
		Discount:     res.Discount.InexactFloat64(),
		Total:        res.Total.InexactFloat64(),
		SkippedLines: len(res.Skipped),
	}
}

// GetCart prices the session's cart and returns the breakdown. An optional
// coupon query parameter is forwarded to the pricing strategy.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(w, r)

	snapshot, err := h.carts.Snapshot(r.Context(), sid)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	res, err := h.pricer.Price(r.Context(), snapshot, pricing.Options{
		CouponCode: r.URL.Query().Get("coupon"),
	})
	if err != nil {
		if errors.Is(err, coupon.ErrInvalidCoupon) || errors.Is(err, coupon.ErrCouponExpired) {
			writeError(w, http.StatusUnprocessableEntity, "invalid or expired coupon code")
			return
		}
		writeInternal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCartResponse(res))
}

// AddCartItem adds one unit of a product (and optional variant) to the cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(w, r)

	var req cartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId required")
		return
	}

	if err := h.carts.Add(r.Context(), sid, req.key()); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateCartItem increases or decreases a line's quantity. Decreasing below
// one removes the line.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(w, r)

	var req cartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId required")
		return
	}

	if err := h.carts.Update(r.Context(), sid, req.key(), cart.Action(req.Action)); err != nil {
		if errors.Is(err, cart.ErrInvalidAction) {
			writeError(w, http.StatusBadRequest, "action must be increase or decrease")
			return
		}
		writeInternal(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveCartItem deletes a line from the cart. Removing an absent line is
// not an error.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(w, r)

	var req cartItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId required")
		return
	}

	if err := h.carts.Remove(r.Context(), sid, req.key()); err != nil {
		writeInternal(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
