package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmereles/vitrine/internal/cart"
	"github.com/dmereles/vitrine/internal/catalog"
	"github.com/dmereles/vitrine/internal/notify"
	"github.com/dmereles/vitrine/internal/order"
	"github.com/dmereles/vitrine/internal/payment"
	"github.com/dmereles/vitrine/internal/pricing"
	"github.com/dmereles/vitrine/internal/webhook"
)

type fakeCatalog struct {
	products map[string]catalog.Product
	variants map[string]catalog.Variant
}

var _ catalog.Repository = (*fakeCatalog)(nil)

func (f *fakeCatalog) List(context.Context) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(f.products))
	for _, id := range []string{"phone", "buds", "charger"} {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (f *fakeCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetVariant(_ context.Context, id string) (*catalog.Variant, error) {
	v, ok := f.variants[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &v, nil
}

func (f *fakeCatalog) Search(_ context.Context, q string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, p := range f.products {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(q)) ||
			strings.Contains(strings.ToLower(p.Category), strings.ToLower(q)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// memStore mirrors the SQL cart store contract, including the existence
// check on Add.
type memStore struct {
	mu      sync.Mutex
	catalog *fakeCatalog
	carts   map[string]cart.Cart
}

var _ cart.Store = (*memStore)(nil)

func newMemStore(c *fakeCatalog) *memStore {
	return &memStore{catalog: c, carts: make(map[string]cart.Cart)}
}

func (s *memStore) Add(ctx context.Context, sessionID string, key cart.LineKey) error {
	if _, err := s.catalog.GetByID(ctx, key.ProductID); err != nil {
		return err
	}
	if key.VariantID != "" {
		if _, err := s.catalog.GetVariant(ctx, key.VariantID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carts[sessionID] == nil {
		s.carts[sessionID] = cart.Cart{}
	}
	s.carts[sessionID][key]++
	return nil
}

func (s *memStore) Update(_ context.Context, sessionID string, key cart.LineKey, action cart.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.carts[sessionID]
	switch action {
	case cart.ActionIncrease:
		if _, ok := c[key]; ok {
			c[key]++
		}
	case cart.ActionDecrease:
		if qty, ok := c[key]; ok {
			if qty <= 1 {
				delete(c, key)
			} else {
				c[key]--
			}
		}
	default:
		return cart.ErrInvalidAction
	}
	return nil
}

func (s *memStore) Remove(_ context.Context, sessionID string, key cart.LineKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts[sessionID], key)
	return nil
}

func (s *memStore) Snapshot(_ context.Context, sessionID string) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := cart.Cart{}
	for k, v := range s.carts[sessionID] {
		snap[k] = v
	}
	return snap, nil
}

func (s *memStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	items  map[string][]order.Item
}

var _ order.Repository = (*memOrders)(nil)

func newMemOrders() *memOrders {
	return &memOrders{
		orders: make(map[string]*order.Order),
		items:  make(map[string][]order.Item),
	}
}

func (r *memOrders) CreateWithItems(_ context.Context, o *order.Order, items []order.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	r.items[o.ID] = items
	return nil
}

func (r *memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrders) ItemsByOrder(_ context.Context, orderID string) ([]order.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[orderID], nil
}

func (r *memOrders) UpdateStatusIfNot(_ context.Context, id string, next, guard order.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status == next || o.Status == guard {
		return false, nil
	}
	o.Status = next
	return true, nil
}

func (r *memOrders) SetTrackingCode(_ context.Context, id, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.TrackingCode = code
	return nil
}

type stubGateway struct {
	payments    map[string]payment.Payment
	redirectURL string
	pix         payment.Pix
	err         error
}

var _ payment.Gateway = (*stubGateway)(nil)

func (g *stubGateway) CreateHostedCheckout(context.Context, *order.Order, []order.Item) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.redirectURL, nil
}

func (g *stubGateway) CreatePix(context.Context, *order.Order) (payment.Pix, error) {
	if g.err != nil {
		return payment.Pix{}, g.err
	}
	return g.pix, nil
}

func (g *stubGateway) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	p, ok := g.payments[id]
	if !ok {
		return payment.Payment{}, &payment.GatewayError{Operation: "get payment", StatusCode: 404}
	}
	return p, nil
}

type testEnv struct {
	handler *Handler
	mux     *http.ServeMux
	store   *memStore
	orders  *memOrders
	gateway *stubGateway
}

func newTestEnv() *testEnv {
	cat := &fakeCatalog{
		products: map[string]catalog.Product{
			"phone":   {ID: "phone", Name: "Smartphone Aurora X", Category: "smartphones", Price: decimal.RequireFromString("2500.00"), PromoBuyOneGetTwo: true},
			"buds":    {ID: "buds", Name: "Fone Pulse Buds", Category: "acessorios", Price: decimal.RequireFromString("1000.00"), PromoBuyOneGetTwo: true},
			"charger": {ID: "charger", Name: "Carregador Turbo", Category: "acessorios", Price: decimal.RequireFromString("1500.00"), PromoBuyOneGetTwo: true},
		},
		variants: map[string]catalog.Variant{
			"phone-256": {ID: "phone-256", ProductID: "phone", Label: "256GB", PriceDelta: decimal.RequireFromString("300.00")},
		},
	}
	store := newMemStore(cat)
	orders := newMemOrders()
	pricer := pricing.NewPromoPricer(cat)
	gateway := &stubGateway{
		payments:    make(map[string]payment.Payment),
		redirectURL: "https://pay.example/pref-1",
		pix:         payment.Pix{CopyPasteCode: "00020126pix", QRCodeBase64: "aW1hZ2U="},
	}
	reconciler := webhook.NewReconciler(gateway, orders, notify.NopMailer{}, "")

	h := NewHandler(cat, store, pricer, order.NewService(store, pricer, orders), orders, gateway, reconciler)
	mux := http.NewServeMux()
	h.Register(mux)

	return &testEnv{handler: h, mux: mux, store: store, orders: orders, gateway: gateway}
}

func (e *testEnv) do(t *testing.T, method, target, sessionID, userID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestListProducts(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/products", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	products := decodeJSON[[]productResponse](t, rec)
	require.Len(t, products, 3)
	require.Equal(t, "phone", products[0].ID)
	require.True(t, products[0].Promo)
}

func TestListProductsSearch(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/products?q=fone", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	products := decodeJSON[[]productResponse](t, rec)
	require.Len(t, products, 1)
	require.Equal(t, "buds", products[0].ID)
}

func TestGetProduct(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/products/phone", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Smartphone Aurora X", decodeJSON[productResponse](t, rec).Name)

	rec = env.do(t, http.MethodGet, "/api/products/missing", "", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionIDMintedAndEchoed(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/cart", "", "", "")
	minted := rec.Header().Get(HeaderSessionID)
	_, err := uuid.Parse(minted)
	require.NoError(t, err, "absent session header mints a uuid")

	rec = env.do(t, http.MethodGet, "/api/cart", minted, "", "")
	require.Equal(t, minted, rec.Header().Get(HeaderSessionID), "valid session is reused")

	rec = env.do(t, http.MethodGet, "/api/cart", "garbage", "", "")
	require.NotEqual(t, "garbage", rec.Header().Get(HeaderSessionID), "invalid session is replaced")
}

func TestCartFlow(t *testing.T) {
	env := newTestEnv()
	sid := uuid.NewString()

	rec := env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{"productId":"phone","variantId":"phone-256"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{"productId":"buds"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/cart/items", sid, "", `{"productId":"buds","action":"increase"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/cart", sid, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[cartResponse](t, rec)
	require.Len(t, resp.Lines, 2)
	// Three promo units (2800, 1000, 1000): one free, the cheapest.
	require.InDelta(t, 4800.0, resp.Subtotal, 0.001)
	require.InDelta(t, 1000.0, resp.Discount, 0.001)
	require.InDelta(t, 3800.0, resp.Total, 0.001)

	rec = env.do(t, http.MethodPatch, "/api/cart/items", sid, "", `{"productId":"buds","action":"decrease"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/cart/items", sid, "", `{"productId":"phone","variantId":"phone-256"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/cart", sid, "", "")
	resp = decodeJSON[cartResponse](t, rec)
	require.Len(t, resp.Lines, 1)
	require.Equal(t, 1, resp.Lines[0].Quantity)
}

func TestAddCartItemUnknownProduct(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/cart/items", uuid.NewString(), "", `{"productId":"missing"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddCartItemValidation(t *testing.T) {
	env := newTestEnv()
	sid := uuid.NewString()

	rec := env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{broken`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCartItemInvalidAction(t *testing.T) {
	env := newTestEnv()
	sid := uuid.NewString()

	env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{"productId":"buds"}`)

	rec := env.do(t, http.MethodPatch, "/api/cart/items", sid, "", `{"productId":"buds","action":"triple"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

const checkoutBody = `{
	"fullName": "Maria Silva",
	"email": "maria@example.com",
	"phone": "+55 11 98888-7777",
	"shippingAddress": "Rua das Flores, 123 - São Paulo, SP"
}`

func TestCheckoutRequiresUser(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/checkout", uuid.NewString(), "", checkoutBody)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutEmptyCart(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/checkout", uuid.NewString(), "user-1", checkoutBody)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutInvalidForm(t *testing.T) {
	env := newTestEnv()
	sid := uuid.NewString()
	env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{"productId":"buds"}`)

	rec := env.do(t, http.MethodPost, "/api/checkout", sid, "user-1", `{"fullName":"","email":"not-an-email","shippingAddress":""}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeJSON[map[string]any](t, rec)
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, fields, "fullName")
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "shippingAddress")
}

func TestCheckoutCreatesOrderAndClearsCart(t *testing.T) {
	env := newTestEnv()
	sid := uuid.NewString()
	env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{"productId":"buds"}`)
	env.do(t, http.MethodPatch, "/api/cart/items", sid, "", `{"productId":"buds","action":"increase"}`)

	rec := env.do(t, http.MethodPost, "/api/checkout", sid, "user-1", checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeJSON[orderResponse](t, rec)
	require.NotEmpty(t, resp.ID)
	require.Equal(t, string(order.StatusPending), resp.Status)
	// Two promo units: one free.
	require.InDelta(t, 1000.0, resp.Total, 0.001)
	require.InDelta(t, 1000.0, resp.Discount, 0.001)
	require.Len(t, resp.Items, 1)

	stored, err := env.orders.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, stored.Status)

	cartRec := env.do(t, http.MethodGet, "/api/cart", sid, "", "")
	require.Empty(t, decodeJSON[cartResponse](t, cartRec).Lines, "cart is spent after checkout")
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv()
	resp := checkoutOrder(t, env)

	rec := env.do(t, http.MethodGet, "/api/orders/"+resp.ID, "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[orderResponse](t, rec)
	require.Equal(t, resp.ID, got.ID)
	require.Len(t, got.Items, 1)

	rec = env.do(t, http.MethodGet, "/api/orders/missing", "", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetTracking(t *testing.T) {
	env := newTestEnv()
	resp := checkoutOrder(t, env)

	rec := env.do(t, http.MethodPut, "/api/orders/"+resp.ID+"/tracking", "", "", `{"trackingCode":"BR123456789"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := env.orders.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	require.Equal(t, "BR123456789", stored.TrackingCode)

	rec = env.do(t, http.MethodPut, "/api/orders/missing/tracking", "", "", `{"trackingCode":"BR1"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/orders/"+resp.ID+"/tracking", "", "", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// checkoutOrder runs a full add-to-cart plus checkout and returns the
// created order.
func checkoutOrder(t *testing.T, env *testEnv) orderResponse {
	t.Helper()
	sid := uuid.NewString()
	env.do(t, http.MethodPost, "/api/cart/items", sid, "", `{"productId":"phone"}`)

	rec := env.do(t, http.MethodPost, "/api/checkout", sid, "user-1", checkoutBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeJSON[orderResponse](t, rec)
}

func TestCreateHostedPayment(t *testing.T) {
	env := newTestEnv()
	resp := checkoutOrder(t, env)

	rec := env.do(t, http.MethodPost, "/api/orders/"+resp.ID+"/payments/hosted", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[map[string]string](t, rec)
	require.Equal(t, resp.ID, body["orderId"])
	require.Equal(t, "https://pay.example/pref-1", body["redirectUrl"])
}

func TestCreatePixPayment(t *testing.T) {
	env := newTestEnv()
	resp := checkoutOrder(t, env)

	rec := env.do(t, http.MethodPost, "/api/orders/"+resp.ID+"/payments/pix", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[map[string]string](t, rec)
	require.Equal(t, "00020126pix", body["copyPasteCode"])
	require.Equal(t, "aW1hZ2U=", body["qrCodeBase64"])
}

func TestPaymentOnTerminalOrder(t *testing.T) {
	env := newTestEnv()
	resp := checkoutOrder(t, env)

	updated, err := env.orders.UpdateStatusIfNot(context.Background(), resp.ID, order.StatusPaid, order.StatusCancelled)
	require.NoError(t, err)
	require.True(t, updated)

	rec := env.do(t, http.MethodPost, "/api/orders/"+resp.ID+"/payments/hosted", "", "", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/orders/"+resp.ID+"/payments/pix", "", "", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentUnknownOrder(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/orders/missing/payments/hosted", "", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentGatewayFailureFallsBack(t *testing.T) {
	env := newTestEnv()
	resp := checkoutOrder(t, env)
	env.gateway.err = &payment.GatewayError{Operation: "create preference", StatusCode: 500}

	rec := env.do(t, http.MethodPost, "/api/orders/"+resp.ID+"/payments/hosted", "", "", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := decodeJSON[errorResponse](t, rec)
	require.Equal(t, resp.ID, body.OrderID, "fallback carries the order id")

	rec = env.do(t, http.MethodPost, "/api/orders/"+resp.ID+"/payments/pix", "", "", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPaymentNonGatewayErrorIsInternal(t *testing.T) {
	env := newTestEnv()
	resp := checkoutOrder(t, env)
	env.gateway.err = errors.New("connection reset")

	rec := env.do(t, http.MethodPost, "/api/orders/"+resp.ID+"/payments/pix", "", "", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
