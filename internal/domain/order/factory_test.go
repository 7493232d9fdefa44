package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout/internal/domain/cart"
	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/coupon"
	"github.com/xenking/checkout/internal/domain/fault"
	"github.com/xenking/checkout/internal/domain/pricing"
)

type mockCartSource struct {
	cart  *cart.Cart
	items []cart.Item
	err   error
}

func (m *mockCartSource) GetByID(_ context.Context, _ string) (*cart.Cart, error) {
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.cart
	return &cp, nil
}

func (m *mockCartSource) ListItems(_ context.Context, _ string) ([]cart.Item, error) {
	return append([]cart.Item(nil), m.items...), nil
}

type mockOracle struct {
	snaps map[string]*catalog.Snapshot
}

func (m *mockOracle) Lookup(_ context.Context, productID, variationID string) (*catalog.Snapshot, error) {
	snap, ok := m.snaps[productID+"/"+variationID]
	if !ok {
		return nil, &catalog.NotFoundError{ProductID: productID, VariationID: variationID}
	}
	cp := *snap
	return &cp, nil
}

type mockResolver struct {
	resolved *coupon.Resolved
	err      error
}

func (m *mockResolver) Resolve(_ context.Context, _ string, _ int64) (*coupon.Resolved, error) {
	return m.resolved, m.err
}

// mockOrderRepo records the committed order and can fail the transaction to
// simulate a mid-commit fault.
type mockOrderRepo struct {
	created       *Order
	convertedCart string
	createErr     error
}

func (m *mockOrderRepo) CreateWithConversion(_ context.Context, o *Order, convertCartID string) error {
	if m.createErr != nil {
		return m.createErr
	}
	cp := *o
	m.created = &cp
	m.convertedCart = convertCartID
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	if m.created != nil && m.created.ID == id {
		cp := *m.created
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) List(_ context.Context, _ ListFilter) ([]Order, int64, error) {
	return nil, 0, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, o *Order) error {
	cp := *o
	m.created = &cp
	return nil
}

func (m *mockOrderRepo) SoftDelete(_ context.Context, _ string) error { return nil }

func testPricing() pricing.Config {
	return pricing.Config{
		ShippingRates: map[pricing.ShippingMethod]int64{
			pricing.ShippingStandard: 60,
			pricing.ShippingPickup:   0,
		},
		FreeShippingThreshold: 1000,
		PointValue:            1,
		PointsEarnDivisor:     100,
	}
}

func validAddress() Address {
	return Address{
		Recipient:  "Ada Lovelace",
		Line1:      "12 Analytical Way",
		City:       "London",
		PostalCode: "NW1",
		Country:    "GB",
	}
}

func activeCart(owner cart.Owner) *cart.Cart {
	return &cart.Cart{
		ID:     "cart-1",
		Owner:  owner,
		Status: cart.StatusActive,
	}
}

func memberOwner(t *testing.T) cart.Owner {
	t.Helper()
	o, err := cart.NewOwner("member-7", "")
	require.NoError(t, err)
	return o
}

func baseRequest() CreateRequest {
	return CreateRequest{
		CartID:          "cart-1",
		ShippingAddress: validAddress(),
		BillingAddress:  validAddress(),
		ShippingMethod:  pricing.ShippingPickup,
		PaymentMethod:   "card",
	}
}

func TestCreateOrder_FromCart(t *testing.T) {
	carts := &mockCartSource{
		cart: activeCart(memberOwner(t)),
		items: []cart.Item{
			{ID: "i1", CartID: "cart-1", ProductID: "p1", Quantity: 2},
			{ID: "i2", CartID: "cart-1", ProductID: "p2", VariationID: "v1", Quantity: 1},
		},
	}
	oracle := &mockOracle{snaps: map[string]*catalog.Snapshot{
		"p1/": {
			ProductID: "p1", Name: "Keyboard", SKU: "KB-1", UnitPrice: 300,
			AvailableStock: 5, StockStatus: catalog.StockInStock,
			Attributes: catalog.Attributes{catalog.AttrColor: "black"},
		},
		"p2/v1": {
			ProductID: "p2", VariationID: "v1", Name: "Mouse", SKU: "MS-1-L",
			UnitPrice: 150, AvailableStock: 2, StockStatus: catalog.StockInStock,
		},
	}}
	orders := &mockOrderRepo{}
	f := NewFactory(carts, oracle, &mockResolver{err: coupon.ErrInvalid}, orders, testPricing())

	got, err := f.CreateOrder(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, "member-7", got.CustomerID, "customer derived from cart owner")
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, PaymentPending, got.PaymentStatus)
	assert.Equal(t, int64(750), got.Subtotal)
	assert.Equal(t, int64(750), got.Total)
	assert.Equal(t, got.Subtotal+got.Tax+got.ShippingFee-got.Discount-got.PointsValue, got.Total)
	assert.Equal(t, int64(7), got.PointsEarned)
	assert.Contains(t, got.OrderNumber, "ORD-")

	require.Len(t, got.Items, 2)
	assert.Equal(t, "Keyboard", got.Items[0].Name)
	assert.Equal(t, "black", string(got.Items[0].Attributes[catalog.AttrColor]))
	assert.Equal(t, int64(600), got.Items[0].TotalPrice)

	assert.Equal(t, "cart-1", orders.convertedCart, "cart conversion rides the same commit")
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	carts := &mockCartSource{cart: activeCart(memberOwner(t))}
	f := NewFactory(carts, &mockOracle{}, &mockResolver{}, &mockOrderRepo{}, testPricing())

	_, err := f.CreateOrder(context.Background(), baseRequest())
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, fault.CodeConflict, fault.CodeOf(err))
}

func TestCreateOrder_CartNotFound(t *testing.T) {
	carts := &mockCartSource{err: cart.ErrNotFound}
	f := NewFactory(carts, &mockOracle{}, &mockResolver{}, &mockOrderRepo{}, testPricing())

	_, err := f.CreateOrder(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))
}

func TestCreateOrder_AlreadyConvertedCart(t *testing.T) {
	c := activeCart(memberOwner(t))
	c.Status = cart.StatusConverted
	carts := &mockCartSource{cart: c}
	f := NewFactory(carts, &mockOracle{}, &mockResolver{}, &mockOrderRepo{}, testPricing())

	_, err := f.CreateOrder(context.Background(), baseRequest())
	var immErr *cart.ImmutableError
	require.ErrorAs(t, err, &immErr)
}

func TestCreateOrder_StockDroppedSinceAdd(t *testing.T) {
	// The item was fine when added; by checkout its stock hit zero. The
	// order must fail and no cart conversion may happen.
	carts := &mockCartSource{
		cart:  activeCart(memberOwner(t)),
		items: []cart.Item{{ID: "i1", CartID: "cart-1", ProductID: "p1", Quantity: 1}},
	}
	oracle := &mockOracle{snaps: map[string]*catalog.Snapshot{
		"p1/": {
			ProductID: "p1", Name: "Keyboard", SKU: "KB-1", UnitPrice: 300,
			AvailableStock: 0, StockStatus: catalog.StockOutOfStock,
		},
	}}
	orders := &mockOrderRepo{}
	f := NewFactory(carts, oracle, &mockResolver{}, orders, testPricing())

	_, err := f.CreateOrder(context.Background(), baseRequest())
	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)

	assert.Nil(t, orders.created, "no order row may exist")
	assert.Empty(t, orders.convertedCart, "cart must stay unconverted")
}

func TestCreateOrder_ExplicitItems(t *testing.T) {
	oracle := &mockOracle{snaps: map[string]*catalog.Snapshot{
		"p1/": {
			ProductID: "p1", Name: "Keyboard", SKU: "KB-1", UnitPrice: 500,
			AvailableStock: 10, StockStatus: catalog.StockInStock,
		},
	}}
	orders := &mockOrderRepo{}
	f := NewFactory(&mockCartSource{err: cart.ErrNotFound}, oracle, &mockResolver{}, orders, testPricing())

	req := baseRequest()
	req.CartID = ""
	req.CustomerID = "cust-9"
	req.Items = []RequestItem{{ProductID: "p1", Quantity: 3}}

	got, err := f.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cust-9", got.CustomerID)
	assert.Equal(t, int64(1500), got.Subtotal)
	assert.Empty(t, orders.convertedCart, "no cart to convert on the explicit path")
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	f := NewFactory(&mockCartSource{err: cart.ErrNotFound}, &mockOracle{}, &mockResolver{}, &mockOrderRepo{}, testPricing())

	req := baseRequest()
	req.CartID = ""
	req.CustomerID = "cust-9"
	req.Items = []RequestItem{{ProductID: "ghost", Quantity: 1}}

	_, err := f.CreateOrder(context.Background(), req)
	var nfErr *catalog.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "ghost", nfErr.ProductID)
}

func TestCreateOrder_InvalidAddress(t *testing.T) {
	f := NewFactory(&mockCartSource{}, &mockOracle{}, &mockResolver{}, &mockOrderRepo{}, testPricing())

	req := baseRequest()
	req.ShippingAddress.PostalCode = ""

	_, err := f.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))
}

func TestCreateOrder_CouponAndPoints(t *testing.T) {
	carts := &mockCartSource{
		cart:  activeCart(memberOwner(t)),
		items: []cart.Item{{ID: "i1", CartID: "cart-1", ProductID: "p1", Quantity: 2}},
	}
	oracle := &mockOracle{snaps: map[string]*catalog.Snapshot{
		"p1/": {
			ProductID: "p1", Name: "Keyboard", SKU: "KB-1", UnitPrice: 1000,
			AvailableStock: 10, StockStatus: catalog.StockInStock,
		},
	}}
	resolver := &mockResolver{resolved: &coupon.Resolved{
		Code:  "SAVE10",
		Type:  coupon.TypePercentage,
		Value: decimal.NewFromInt(10),
	}}
	orders := &mockOrderRepo{}
	f := NewFactory(carts, oracle, resolver, orders, testPricing())

	req := baseRequest()
	req.CouponCode = "save10"
	req.PointsUsed = 100

	got, err := f.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), got.Subtotal)
	assert.Equal(t, int64(200), got.Discount)
	assert.Equal(t, int64(100), got.PointsValue)
	assert.Equal(t, int64(1700), got.Total)
	assert.Equal(t, "SAVE10", got.CouponCode, "order carries the resolver's canonical code")
	assert.Equal(t, int64(100), got.PointsUsed)
}

func TestCreateOrder_CommitFailureIsRetryable(t *testing.T) {
	carts := &mockCartSource{
		cart:  activeCart(memberOwner(t)),
		items: []cart.Item{{ID: "i1", CartID: "cart-1", ProductID: "p1", Quantity: 1}},
	}
	oracle := &mockOracle{snaps: map[string]*catalog.Snapshot{
		"p1/": {
			ProductID: "p1", Name: "Keyboard", SKU: "KB-1", UnitPrice: 300,
			AvailableStock: 5, StockStatus: catalog.StockInStock,
		},
	}}
	orders := &mockOrderRepo{createErr: errors.New("connection reset")}
	f := NewFactory(carts, oracle, &mockResolver{}, orders, testPricing())

	_, err := f.CreateOrder(context.Background(), baseRequest())
	require.Error(t, err)
	assert.True(t, fault.IsTransient(err), "storage failures must be retryable")
	assert.Nil(t, orders.created)
}

func TestCreateOrder_ConflictFromCommitPassesThrough(t *testing.T) {
	carts := &mockCartSource{
		cart:  activeCart(memberOwner(t)),
		items: []cart.Item{{ID: "i1", CartID: "cart-1", ProductID: "p1", Quantity: 2}},
	}
	oracle := &mockOracle{snaps: map[string]*catalog.Snapshot{
		"p1/": {
			ProductID: "p1", Name: "Keyboard", SKU: "KB-1", UnitPrice: 300,
			AvailableStock: 5, StockStatus: catalog.StockInStock,
		},
	}}
	// Simulates the CAS losing a race for the last unit inside the tx.
	orders := &mockOrderRepo{createErr: &catalog.InsufficientStockError{
		ProductID: "p1", Requested: 2, Available: 1,
	}}
	f := NewFactory(carts, oracle, &mockResolver{}, orders, testPricing())

	_, err := f.CreateOrder(context.Background(), baseRequest())
	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.False(t, fault.IsTransient(err))
}

func TestCreateOrder_TypedCommitFailuresKeepTheirCode(t *testing.T) {
	// A product row deleted mid-checkout or an exhausted coupon is not a
	// storage outage; retrying cannot fix either.
	cases := []struct {
		name string
		err  error
		code fault.Code
	}{
		{
			name: "product deleted inside the transaction",
			err:  &catalog.NotFoundError{ProductID: "p1"},
			code: fault.CodeNotFound,
		},
		{
			name: "coupon usage limit reached",
			err:  &coupon.InvalidError{Code: "SAVE10", Reason: "usage limit reached"},
			code: fault.CodeValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			carts := &mockCartSource{
				cart:  activeCart(memberOwner(t)),
				items: []cart.Item{{ID: "i1", CartID: "cart-1", ProductID: "p1", Quantity: 1}},
			}
			oracle := &mockOracle{snaps: map[string]*catalog.Snapshot{
				"p1/": {
					ProductID: "p1", Name: "Keyboard", SKU: "KB-1", UnitPrice: 300,
					AvailableStock: 5, StockStatus: catalog.StockInStock,
				},
			}}
			orders := &mockOrderRepo{createErr: tc.err}
			f := NewFactory(carts, oracle, &mockResolver{}, orders, testPricing())

			_, err := f.CreateOrder(context.Background(), baseRequest())
			require.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.code, fault.CodeOf(err))
			assert.False(t, fault.IsTransient(err))
		})
	}
}

func TestNewNumber(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	a := NewNumber(now)
	b := NewNumber(now)

	assert.Contains(t, a, "ORD-20260901-")
	assert.Len(t, a, len("ORD-20260901-")+8)
	assert.NotEqual(t, a, b)
}
