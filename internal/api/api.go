// Package api is the thin JSON adapter over the checkout services. It
// decodes requests, delegates to the domain layer, and maps fault codes to
// HTTP statuses. No business rules live here.
package api

import (
	"context"
	"net/http"

	"github.com/xenking/checkout/internal/domain/cart"
	"github.com/xenking/checkout/internal/domain/order"
)

// CartService is the slice of the cart service the adapter calls.
type CartService interface {
	GetOrCreate(ctx context.Context, owner cart.Owner) (*cart.Cart, error)
	Get(ctx context.Context, cartID string) (*cart.Cart, error)
	AddItem(ctx context.Context, cartID, productID, variationID string, quantity int) (*cart.Cart, error)
	UpdateItem(ctx context.Context, cartID, itemID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (*cart.Cart, error)
	Clear(ctx context.Context, cartID string) (*cart.Cart, error)
	ApplyCoupon(ctx context.Context, cartID, code string) (*cart.Cart, error)
	RemoveCoupon(ctx context.Context, cartID string) (*cart.Cart, error)
}

// OrderCreator is the checkout entrypoint.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
}

// OrderService is the read/update surface for existing orders.
type OrderService interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context, f order.ListFilter) ([]order.Order, int64, error)
	UpdateStatus(ctx context.Context, id string, ch order.StatusChange) (*order.Order, error)
	Delete(ctx context.Context, id string) error
}

// Handler serves the checkout HTTP API.
type Handler struct {
	carts   CartService
	factory OrderCreator
	orders  OrderService
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(carts CartService, factory OrderCreator, orders OrderService) *Handler {
	return &Handler{
		carts:   carts,
		factory: factory,
		orders:  orders,
	}
}

// Routes returns the API route table. Method and path parameters use the
// net/http pattern syntax.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/carts", h.getOrCreateCart)
	mux.HandleFunc("GET /api/carts/{cartID}", h.getCart)
	mux.HandleFunc("POST /api/carts/{cartID}/items", h.addCartItem)
	mux.HandleFunc("PATCH /api/carts/{cartID}/items/{itemID}", h.updateCartItem)
	mux.HandleFunc("DELETE /api/carts/{cartID}/items/{itemID}", h.removeCartItem)
	mux.HandleFunc("DELETE /api/carts/{cartID}/items", h.clearCart)
	mux.HandleFunc("POST /api/carts/{cartID}/coupon", h.applyCoupon)
	mux.HandleFunc("DELETE /api/carts/{cartID}/coupon", h.removeCoupon)

	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{orderID}", h.getOrder)
	mux.HandleFunc("PATCH /api/orders/{orderID}/status", h.updateOrderStatus)
	mux.HandleFunc("DELETE /api/orders/{orderID}", h.deleteOrder)

	return mux
}
