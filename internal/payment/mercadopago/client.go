// Package mercadopago implements the payment.Gateway interface against a
// Mercado Pago-style REST API: hosted checkout preferences, direct Pix
// payments, and payment lookups.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/dmereles/vitrine/internal/order"
	"github.com/dmereles/vitrine/internal/payment"
)

// minUnitPrice is the lowest line item price the processor accepts.
var minUnitPrice = decimal.RequireFromString("0.01")

// Config holds the client configuration.
type Config struct {
	// BaseURL of the processor API, e.g. https://api.mercadopago.com.
	BaseURL     string
	AccessToken string
	// SuccessURL and FailureURL are the back URLs for hosted checkout.
	SuccessURL string
	FailureURL string
	// PayerEmail and PayerDocument identify the Pix payer. They default to
	// the processor's sandbox test identity; production deployments must
	// inject the real buyer identity.
	PayerEmail    string
	PayerDocument string
	Timeout       time.Duration
}

// Client is an HTTP implementation of payment.Gateway.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ payment.Gateway = (*Client)(nil)

// NewClient creates a Client for the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PayerEmail == "" {
		cfg.PayerEmail = "test_user@testuser.com"
	}
	if cfg.PayerDocument == "" {
		cfg.PayerDocument = "19119119100"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type preferenceItem struct {
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	BackURLs          map[string]string `json:"back_urls"`
	AutoReturn        string            `json:"auto_return"`
	ExternalReference string            `json:"external_reference"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreateHostedCheckout builds one preference line per order item and returns
// the processor-hosted payment page URL. Unit prices are floored at the
// processor's 0.01 minimum.
func (c *Client) CreateHostedCheckout(ctx context.Context, o *order.Order, items []order.Item) (string, error) {
	prefItems := make([]preferenceItem, len(items))
	for i, item := range items {
		price := item.UnitPrice
		if price.LessThan(minUnitPrice) {
			price = minUnitPrice
		}
		title := item.ProductName
		if item.VariantLabel != "" {
			title += " (" + item.VariantLabel + ")"
		}
		prefItems[i] = preferenceItem{
			Title:     title,
			Quantity:  item.Quantity,
			UnitPrice: price.InexactFloat64(),
		}
	}

	req := preferenceRequest{
		Items: prefItems,
		BackURLs: map[string]string{
			"success": c.cfg.SuccessURL,
			"failure": c.cfg.FailureURL,
		},
		AutoReturn:        "approved",
		ExternalReference: o.ID,
	}

	var resp preferenceResponse
	if err := c.post(ctx, "/checkout/preferences", req, &resp); err != nil {
		return "", err
	}
	if resp.InitPoint == "" {
		return "", &payment.GatewayError{Operation: "create preference", StatusCode: http.StatusCreated}
	}

	return resp.InitPoint, nil
}

type pixRequest struct {
	TransactionAmount float64  `json:"transaction_amount"`
	Description       string   `json:"description"`
	PaymentMethodID   string   `json:"payment_method_id"`
	ExternalReference string   `json:"external_reference"`
	Payer             pixPayer `json:"payer"`
}

type pixPayer struct {
	Email          string            `json:"email"`
	Identification map[string]string `json:"identification"`
}

type pixResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// CreatePix submits a direct Pix payment for the order total and returns the
// copy-paste code plus the base64 QR image.
func (c *Client) CreatePix(ctx context.Context, o *order.Order) (payment.Pix, error) {
	req := pixRequest{
		TransactionAmount: o.Total.InexactFloat64(),
		Description:       "Pedido " + o.ID,
		PaymentMethodID:   "pix",
		ExternalReference: o.ID,
		Payer: pixPayer{
			Email: c.cfg.PayerEmail,
			Identification: map[string]string{
				"type":   "CPF",
				"number": c.cfg.PayerDocument,
			},
		},
	}

	var resp pixResponse
	if err := c.post(ctx, "/v1/payments", req, &resp); err != nil {
		return payment.Pix{}, err
	}

	td := resp.PointOfInteraction.TransactionData
	if td.QRCode == "" {
		return payment.Pix{}, &payment.GatewayError{Operation: "create pix", StatusCode: http.StatusCreated}
	}

	return payment.Pix{
		CopyPasteCode: td.QRCode,
		QRCodeBase64:  td.QRCodeBase64,
	}, nil
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	ExternalReference string      `json:"external_reference"`
}

// GetPayment fetches the current payment state by id.
func (c *Client) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/payments/"+id, nil)
	if err != nil {
		return payment.Payment{}, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return payment.Payment{}, errors.Wrapf(err, "get payment %s", id)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return payment.Payment{}, &payment.GatewayError{Operation: "get payment", StatusCode: httpResp.StatusCode}
	}

	var resp paymentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return payment.Payment{}, errors.Wrapf(err, "decode payment %s", id)
	}

	return payment.Payment{
		ID:                resp.ID.String(),
		Status:            payment.Status(resp.Status),
		ExternalReference: resp.ExternalReference,
	}, nil
}

// post sends a JSON body and decodes a JSON response. Any status other than
// 200/201 is a GatewayError.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return &payment.GatewayError{Operation: "post " + path, StatusCode: httpResp.StatusCode}
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}

	return nil
}
