package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout/internal/domain/cart"
	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/fault"
	"github.com/xenking/checkout/internal/domain/order"
)

type mockCarts struct {
	cart *cart.Cart
	err  error
}

func (m *mockCarts) GetOrCreate(context.Context, cart.Owner) (*cart.Cart, error) {
	return m.cart, m.err
}

func (m *mockCarts) Get(context.Context, string) (*cart.Cart, error) { return m.cart, m.err }

func (m *mockCarts) AddItem(context.Context, string, string, string, int) (*cart.Cart, error) {
	return m.cart, m.err
}

func (m *mockCarts) UpdateItem(context.Context, string, string, int) (*cart.Cart, error) {
	return m.cart, m.err
}

func (m *mockCarts) RemoveItem(context.Context, string, string) (*cart.Cart, error) {
	return m.cart, m.err
}

func (m *mockCarts) Clear(context.Context, string) (*cart.Cart, error) { return m.cart, m.err }

func (m *mockCarts) ApplyCoupon(context.Context, string, string) (*cart.Cart, error) {
	return m.cart, m.err
}

func (m *mockCarts) RemoveCoupon(context.Context, string) (*cart.Cart, error) {
	return m.cart, m.err
}

type mockFactory struct {
	order *order.Order
	err   error
}

func (m *mockFactory) CreateOrder(context.Context, order.CreateRequest) (*order.Order, error) {
	return m.order, m.err
}

type mockOrders struct {
	order *order.Order
	err   error
}

func (m *mockOrders) GetByID(context.Context, string) (*order.Order, error) {
	return m.order, m.err
}

func (m *mockOrders) List(context.Context, order.ListFilter) ([]order.Order, int64, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	return []order.Order{*m.order}, 1, nil
}

func (m *mockOrders) UpdateStatus(context.Context, string, order.StatusChange) (*order.Order, error) {
	return m.order, m.err
}

func (m *mockOrders) Delete(context.Context, string) error { return m.err }

func testCart(t *testing.T) *cart.Cart {
	t.Helper()
	owner, err := cart.NewOwner("member-1", "")
	require.NoError(t, err)
	return &cart.Cart{
		ID:     "cart-1",
		Owner:  owner,
		Status: cart.StatusActive,
		Items: []cart.Item{
			{ID: "item-1", CartID: "cart-1", ProductID: "p1", Quantity: 2},
		},
		ItemsCount:  1,
		TotalAmount: 200,
	}
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestAddCartItem(t *testing.T) {
	h := NewHandler(&mockCarts{cart: testCart(t)}, &mockFactory{}, &mockOrders{})

	rec := serve(h, http.MethodPost, "/api/carts/cart-1/items",
		`{"productId":"p1","quantity":2}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cart-1", resp.ID)
	assert.Equal(t, "member-1", resp.MemberID)
	assert.Equal(t, int64(200), resp.TotalAmount)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 2, resp.Items[0].Quantity)
}

func TestAddCartItem_InsufficientStock(t *testing.T) {
	h := NewHandler(&mockCarts{err: &catalog.InsufficientStockError{
		ProductID: "p1",
		Requested: 5,
		Available: 3,
	}}, &mockFactory{}, &mockOrders{})

	rec := serve(h, http.MethodPost, "/api/carts/cart-1/items",
		`{"productId":"p1","quantity":5}`)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, fault.CodeConflict, resp.Code)
	require.NotNil(t, resp.Available)
	assert.Equal(t, 3, *resp.Available)
}

func TestGetCart_NotFound(t *testing.T) {
	h := NewHandler(&mockCarts{err: fault.NotFound("cart missing not found")}, &mockFactory{}, &mockOrders{})

	rec := serve(h, http.MethodGet, "/api/carts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrCreateCart_RequiresOwner(t *testing.T) {
	h := NewHandler(&mockCarts{cart: testCart(t)}, &mockFactory{}, &mockOrders{})

	rec := serve(h, http.MethodPost, "/api/carts", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrCreateCart_OwnerFromHeader(t *testing.T) {
	h := NewHandler(&mockCarts{cart: testCart(t)}, &mockFactory{}, &mockOrders{})

	req := httptest.NewRequest(http.MethodPost, "/api/carts", strings.NewReader(""))
	req.Header.Set("X-Session-ID", "sess-9")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrder(t *testing.T) {
	o := &order.Order{
		ID:          "order-1",
		OrderNumber: "ORD-20250101-ABCDEF01",
		Status:      order.StatusPending,
		Total:       260,
	}
	h := NewHandler(&mockCarts{}, &mockFactory{order: o}, &mockOrders{})

	rec := serve(h, http.MethodPost, "/api/orders", `{"cartId":"cart-1","paymentMethod":"card"}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ORD-20250101-ABCDEF01", resp.OrderNumber)
	assert.Equal(t, int64(260), resp.Total)
}

func TestCreateOrder_TransientSetsRetryAfter(t *testing.T) {
	h := NewHandler(&mockCarts{}, &mockFactory{
		err: fault.Transient(assert.AnError, "order creation failed"),
	}, &mockOrders{})

	rec := serve(h, http.MethodPost, "/api/orders", `{"cartId":"cart-1"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestUpdateOrderStatus_RequiresField(t *testing.T) {
	h := NewHandler(&mockCarts{}, &mockFactory{}, &mockOrders{order: &order.Order{ID: "order-1"}})

	rec := serve(h, http.MethodPatch, "/api/orders/order-1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders_ParsesFilter(t *testing.T) {
	h := NewHandler(&mockCarts{}, &mockFactory{}, &mockOrders{order: &order.Order{ID: "order-1"}})

	rec := serve(h, http.MethodGet, "/api/orders?status=pending&page=2&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listOrdersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 10, resp.Limit)
}

func TestListOrders_RejectsBadTimestamp(t *testing.T) {
	h := NewHandler(&mockCarts{}, &mockFactory{}, &mockOrders{order: &order.Order{}})

	rec := serve(h, http.MethodGet, "/api/orders?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalErrorIsMasked(t *testing.T) {
	h := NewHandler(&mockCarts{err: assert.AnError}, &mockFactory{}, &mockOrders{})

	rec := serve(h, http.MethodGet, "/api/carts/cart-1", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, fault.CodeInternal, resp.Code)
	assert.Equal(t, "internal error", resp.Message)
}
