package httpapi

import (
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/dmereles/vitrine/internal/coupon"
	"github.com/dmereles/vitrine/internal/order"
	"github.com/dmereles/vitrine/internal/payment"
)

type checkoutRequest struct {
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	ShippingAddress string `json:"shippingAddress"`
	CouponCode      string `json:"couponCode,omitempty"`
}

// validate returns field-level messages for a malformed checkout form.
func (req checkoutRequest) validate() map[string]string {
	problems := make(map[string]string)
	if strings.TrimSpace(req.FullName) == "" {
		problems["fullName"] = "required"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		problems["email"] = "must be a valid email address"
	}
	if strings.TrimSpace(req.ShippingAddress) == "" {
		problems["shippingAddress"] = "required"
	}
	return problems
}

type orderResponse struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	FullName        string              `json:"fullName"`
	Email           string              `json:"email"`
	Phone           string              `json:"phone,omitempty"`
	ShippingAddress string              `json:"shippingAddress"`
	Total           float64             `json:"total"`
	Discount        float64             `json:"discount"`
	TrackingCode    string              `json:"trackingCode,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	Items           []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ProductID    string  `json:"productId,omitempty"`
	ProductName  string  `json:"productName"`
	VariantLabel string  `json:"variantLabel,omitempty"`
	UnitPrice    float64 `json:"unitPrice"`
	Quantity     int     `json:"quantity"`
}

func toOrderResponse(o *order.Order, items []order.Item) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Status:          string(o.Status),
		FullName:        o.FullName,
		Email:           o.Email,
		Phone:           o.Phone,
		ShippingAddress: o.ShippingAddress,
		Total:           o.Total.InexactFloat64(),
		Discount:        o.Discount.InexactFloat64(),
		TrackingCode:    o.TrackingCode,
		CreatedAt:       o.CreatedAt,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			VariantLabel: item.VariantLabel,
			UnitPrice:    item.UnitPrice.InexactFloat64(),
			Quantity:     item.Quantity,
		})
	}
	return resp
}

// Checkout materializes the session's cart into a pending order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(w, r)

	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "checkout requires an authenticated user")
		return
	}

	var req checkoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if problems := req.validate(); len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":    http.StatusUnprocessableEntity,
			"message": "invalid checkout form",
			"fields":  problems,
		})
		return
	}

	result, err := h.checkout.Checkout(r.Context(), order.CheckoutRequest{
		SessionID:       sid,
		UserID:          userID,
		FullName:        req.FullName,
		Email:           req.Email,
		Phone:           req.Phone,
		ShippingAddress: req.ShippingAddress,
		CouponCode:      req.CouponCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrEmptyCart), errors.Is(err, order.ErrNothingPriced):
			writeError(w, http.StatusBadRequest, "cart is empty")
		case errors.Is(err, coupon.ErrInvalidCoupon), errors.Is(err, coupon.ErrCouponExpired):
			writeError(w, http.StatusUnprocessableEntity, "invalid or expired coupon code")
		default:
			writeInternal(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(result.Order, result.Items))
}

// GetOrder returns a single order with its items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	items, err := h.orders.ItemsByOrder(r.Context(), id)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o, items))
}

type trackingRequest struct {
	TrackingCode string `json:"trackingCode"`
}

// SetTracking records the external shipping tracking code on an order.
func (h *Handler) SetTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TrackingCode == "" {
		writeError(w, http.StatusBadRequest, "trackingCode required")
		return
	}

	if err := h.orders.SetTrackingCode(r.Context(), r.PathValue("id"), req.TrackingCode); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternal(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateHostedPayment submits the order to the processor's hosted checkout
// and returns the redirect URL. A gateway failure is not fatal: the client
// gets the order id back and should route to the order detail for retry.
func (h *Handler) CreateHostedPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	o, items, ok := h.payableOrder(w, r, id)
	if !ok {
		return
	}

	redirectURL, err := h.gateway.CreateHostedCheckout(r.Context(), o, items)
	if err != nil {
		h.writeGatewayFailure(w, r, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"orderId":     id,
		"redirectUrl": redirectURL,
	})
}

// CreatePixPayment generates a Pix charge for the order. On gateway failure
// the client is pointed back at the order detail instead of an error page.
func (h *Handler) CreatePixPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	o, _, ok := h.payableOrder(w, r, id)
	if !ok {
		return
	}

	pix, err := h.gateway.CreatePix(r.Context(), o)
	if err != nil {
		h.writeGatewayFailure(w, r, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"orderId":       id,
		"copyPasteCode": pix.CopyPasteCode,
		"qrCodeBase64":  pix.QRCodeBase64,
	})
}

// payableOrder loads the order and its items and rejects payment attempts
// on terminal orders.
func (h *Handler) payableOrder(w http.ResponseWriter, r *http.Request, id string) (*order.Order, []order.Item, bool) {
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return nil, nil, false
		}
		writeInternal(w, r, err)
		return nil, nil, false
	}
	if o.Status.Terminal() {
		writeError(w, http.StatusConflict, "order is already "+string(o.Status))
		return nil, nil, false
	}

	items, err := h.orders.ItemsByOrder(r.Context(), id)
	if err != nil {
		writeInternal(w, r, err)
		return nil, nil, false
	}

	return o, items, true
}

// writeGatewayFailure maps a processor error to a 502 with a fallback order
// reference. A non-gateway error is an internal failure.
func (h *Handler) writeGatewayFailure(w http.ResponseWriter, r *http.Request, orderID string, err error) {
	var gwErr *payment.GatewayError
	if !errors.As(err, &gwErr) {
		writeInternal(w, r, err)
		return
	}

	zctx.From(r.Context()).Error("payment gateway call failed",
		zap.String("order_id", orderID),
		zap.String("operation", gwErr.Operation),
		zap.Int("gateway_status", gwErr.StatusCode),
	)
	writeJSON(w, http.StatusBadGateway, errorResponse{
		Code:    http.StatusBadGateway,
		Message: "payment processor unavailable, try again from the order page",
		OrderID: orderID,
	})
}
