package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/checkout/internal/domain/cart"
	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/coupon"
	"github.com/xenking/checkout/internal/domain/fault"
	"github.com/xenking/checkout/internal/domain/pricing"
)

// ErrEmptyCart is returned when checkout is attempted against a cart (or
// explicit item list) with no items.
var ErrEmptyCart = fault.New(fault.CodeConflict, "cart is empty")

// RequestItem names a product line for the explicit-items checkout path.
type RequestItem struct {
	ProductID   string
	VariationID string
	Quantity    int
}

// CreateRequest carries everything needed to turn a cart (or an explicit
// item list) into an order. Exactly one of CartID or Items must be set.
type CreateRequest struct {
	CartID string
	// CustomerID is required for the explicit-items path and for
	// session-owned carts; member-owned carts derive it from the owner.
	CustomerID string
	Items      []RequestItem

	ShippingAddress Address
	BillingAddress  Address
	ShippingMethod  pricing.ShippingMethod
	PaymentMethod   string

	CouponCode string
	// PointsUsed is the loyalty points the customer redeems. Verifying it
	// against the member's balance is the caller's responsibility.
	PointsUsed int64
}

// CartSource is the slice of cart persistence the factory needs: reading
// the cart being checked out. The conversion flip happens inside the order
// repository's transaction, not here.
type CartSource interface {
	GetByID(ctx context.Context, id string) (*cart.Cart, error)
	ListItems(ctx context.Context, cartID string) ([]cart.Item, error)
}

// Factory converts carts into immutable orders. It re-reads authoritative
// prices and stock from the oracle at commit time, prices through the
// engine, and hands the result to the repository for a single atomic write.
type Factory struct {
	carts   CartSource
	oracle  catalog.Oracle
	coupons coupon.Resolver
	orders  Repository
	pricing pricing.Config
	now     func() time.Time
}

// NewFactory wires a Factory with its collaborators. Nothing is global;
// every dependency arrives here.
func NewFactory(
	carts CartSource,
	oracle catalog.Oracle,
	coupons coupon.Resolver,
	orders Repository,
	cfg pricing.Config,
) *Factory {
	return &Factory{
		carts:   carts,
		oracle:  oracle,
		coupons: coupons,
		orders:  orders,
		pricing: cfg,
		now:     time.Now,
	}
}

// CreateOrder runs the checkout algorithm:
//
//  1. resolve items from the cart or the explicit list,
//  2. re-fetch current price/stock for every line and snapshot the product,
//  3. price through the engine (resolving the coupon if supplied),
//  4. commit order + items + cart conversion in one transaction,
//  5. return the hydrated order.
//
// Cached cart prices and client-supplied prices are never trusted; step 2
// closes the race between "viewed in cart" and "committed at checkout".
func (f *Factory) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, fault.Wrap(err, fault.CodeValidation, "invalid shipping address")
	}
	if err := req.BillingAddress.Validate(); err != nil {
		return nil, fault.Wrap(err, fault.CodeValidation, "invalid billing address")
	}
	if req.PaymentMethod == "" {
		return nil, fault.Validation("payment method required")
	}

	lines, customerID, convertCartID, cartCoupon, err := f.resolveItems(ctx, req)
	if err != nil {
		return nil, err
	}

	// An explicit request coupon wins over the one applied to the cart.
	couponCode := req.CouponCode
	if couponCode == "" {
		couponCode = cartCoupon
	}

	now := f.now()
	items := make([]Item, len(lines))
	priced := make([]pricing.LineItem, len(lines))
	for i, line := range lines {
		snap, err := f.oracle.Lookup(ctx, line.ProductID, line.VariationID)
		if err != nil {
			return nil, err
		}
		if snap.StockStatus == catalog.StockOutOfStock || snap.AvailableStock < line.Quantity {
			return nil, &catalog.InsufficientStockError{
				ProductID:   line.ProductID,
				VariationID: line.VariationID,
				Requested:   line.Quantity,
				Available:   snap.AvailableStock,
			}
		}

		items[i] = Item{
			ID:          uuid.New().String(),
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			Name:        snap.Name,
			SKU:         snap.SKU,
			Image:       snap.Image,
			Attributes:  snap.Attributes.Clone(),
			UnitPrice:   snap.UnitPrice,
			Quantity:    line.Quantity,
			TotalPrice:  snap.UnitPrice * int64(line.Quantity),
		}
		priced[i] = pricing.LineItem{UnitPrice: snap.UnitPrice, Quantity: line.Quantity}
	}

	var resolved *coupon.Resolved
	if couponCode != "" {
		var subtotal int64
		for _, p := range priced {
			subtotal += p.UnitPrice * int64(p.Quantity)
		}
		resolved, err = f.coupons.Resolve(ctx, couponCode, subtotal)
		if err != nil {
			return nil, err
		}
		// The order carries the canonical code; the repository redeems the
		// use under the same key inside the checkout transaction.
		couponCode = resolved.Code
	}

	totals, err := f.pricing.Quote(pricing.Input{
		Items:      priced,
		Method:     req.ShippingMethod,
		Coupon:     resolved,
		PointsUsed: req.PointsUsed,
	})
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:              uuid.New().String(),
		OrderNumber:     NewNumber(now),
		CustomerID:      customerID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		ShippingStatus:  ShippingPending,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		ShippingFee:     totals.ShippingFee,
		Discount:        totals.Discount,
		PointsValue:     totals.PointsValue,
		Total:           totals.Total,
		CouponCode:      couponCode,
		PointsEarned:    f.pricing.EarnedPoints(totals.Total),
		PointsUsed:      req.PointsUsed,
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Items:           items,
		OrderDate:       now,
	}
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}

	if err := f.orders.CreateWithConversion(ctx, o, convertCartID); err != nil {
		// Typed failures keep their code: stock CAS and converted-cart
		// conflicts, a product row deleted mid-checkout, an exhausted
		// coupon. Only unexplained errors become retryable.
		switch fault.CodeOf(err) {
		case fault.CodeConflict, fault.CodeNotFound, fault.CodeValidation:
			return nil, err
		}
		return nil, fault.Transient(err, "order creation failed")
	}

	return o, nil
}

// resolveItems yields the lines to price, the owning customer, the cart to
// convert (empty for the explicit-items path), and any coupon already
// applied to the cart.
func (f *Factory) resolveItems(ctx context.Context, req CreateRequest) (lines []RequestItem, customerID, convertCartID, cartCoupon string, err error) {
	if req.CartID == "" {
		if len(req.Items) == 0 {
			return nil, "", "", "", ErrEmptyCart
		}
		if req.CustomerID == "" {
			return nil, "", "", "", fault.Validation("customer id required")
		}
		for i, it := range req.Items {
			if it.Quantity <= 0 {
				return nil, "", "", "", fault.Validation("item %d: quantity must be greater than 0", i)
			}
		}
		return req.Items, req.CustomerID, "", "", nil
	}

	c, err := f.carts.GetByID(ctx, req.CartID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, "", "", "", fault.NotFound("cart %s not found", req.CartID)
		}
		return nil, "", "", "", errors.Wrap(err, "get cart")
	}
	if !c.Mutable() {
		return nil, "", "", "", &cart.ImmutableError{CartID: c.ID, Status: c.Status}
	}

	cartItems, err := f.carts.ListItems(ctx, c.ID)
	if err != nil {
		return nil, "", "", "", errors.Wrap(err, "list cart items")
	}
	if len(cartItems) == 0 {
		return nil, "", "", "", ErrEmptyCart
	}

	customerID = req.CustomerID
	if member, ok := c.Owner.Member(); ok {
		customerID = member
	}
	if customerID == "" {
		return nil, "", "", "", fault.Validation("customer id required for session cart checkout")
	}

	lines = make([]RequestItem, len(cartItems))
	for i, it := range cartItems {
		lines[i] = RequestItem{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
		}
	}
	return lines, customerID, c.ID, c.AppliedCouponCode, nil
}
