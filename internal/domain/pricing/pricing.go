// Package pricing computes order totals. It is a pure function over line
// items, shipping method, resolved coupon and redeemed points: no storage
// access, no clock, no side effects.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/checkout/internal/domain/coupon"
	"github.com/xenking/checkout/internal/domain/fault"
)

// ShippingMethod selects a row in the flat-rate shipping table.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
	ShippingPickup   ShippingMethod = "pickup"
)

// Config holds the injected pricing knobs. The observed production values
// (5% tax, fee table, free-shipping threshold) are defaults, not contracts.
type Config struct {
	// TaxRateBasisPoints is the tax rate in basis points (500 = 5%).
	TaxRateBasisPoints int64
	// ShippingRates maps each method to its flat fee in minor units.
	ShippingRates map[ShippingMethod]int64
	// FreeShippingThreshold waives the shipping fee entirely once the
	// subtotal reaches it. Zero disables the waiver.
	FreeShippingThreshold int64
	// PointValue is the minor-unit worth of one redeemed loyalty point.
	PointValue int64
	// PointsEarnDivisor yields earned points as total / divisor.
	// Zero disables earning.
	PointsEarnDivisor int64
}

// LineItem is one priced order line.
type LineItem struct {
	UnitPrice int64
	Quantity  int
}

// Input carries everything a quote depends on. The caller is responsible
// for verifying PointsUsed against the member's balance.
type Input struct {
	Items      []LineItem
	Method     ShippingMethod
	Coupon     *coupon.Resolved
	PointsUsed int64
}

// Totals is the authoritative price breakdown in minor currency units.
// Total == Subtotal + Tax + ShippingFee - Discount - PointsValue, floored
// at zero.
type Totals struct {
	Subtotal    int64
	ShippingFee int64
	Tax         int64
	Discount    int64
	PointsValue int64
	Total       int64
}

var hundred = decimal.NewFromInt(100)

// Quote computes the full price breakdown for in.
func (c Config) Quote(in Input) (Totals, error) {
	var t Totals

	for i, item := range in.Items {
		if item.Quantity <= 0 {
			return Totals{}, fault.Validation("line %d: quantity must be greater than 0", i)
		}
		if item.UnitPrice < 0 {
			return Totals{}, fault.Validation("line %d: negative unit price", i)
		}
		t.Subtotal += item.UnitPrice * int64(item.Quantity)
	}

	fee, err := c.shippingFee(in.Method, t.Subtotal)
	if err != nil {
		return Totals{}, err
	}
	t.ShippingFee = fee

	t.Tax = t.Subtotal * c.TaxRateBasisPoints / 10_000

	if in.Coupon != nil {
		d, err := Discount(in.Coupon, t.Subtotal)
		if err != nil {
			return Totals{}, err
		}
		t.Discount = d
	}

	if in.PointsUsed < 0 {
		return Totals{}, fault.Validation("points used must not be negative")
	}
	t.PointsValue = in.PointsUsed * c.PointValue

	t.Total = t.Subtotal + t.Tax + t.ShippingFee - t.Discount - t.PointsValue
	if t.Total < 0 {
		t.Total = 0
	}
	return t, nil
}

// EarnedPoints returns the loyalty points granted for a paid total.
func (c Config) EarnedPoints(total int64) int64 {
	if c.PointsEarnDivisor <= 0 {
		return 0
	}
	return total / c.PointsEarnDivisor
}

// shippingFee applies the flat-rate table and the free-shipping waiver.
// The waiver is all-or-nothing, not a proportional discount.
func (c Config) shippingFee(method ShippingMethod, subtotal int64) (int64, error) {
	fee, ok := c.ShippingRates[method]
	if !ok {
		return 0, fault.Validation("unknown shipping method %q", method)
	}
	if c.FreeShippingThreshold > 0 && subtotal >= c.FreeShippingThreshold {
		return 0, nil
	}
	return fee, nil
}

// Discount computes the coupon discount with clamping: fixed coupons never
// exceed the subtotal, percentage coupons never exceed MaxDiscount. Shared
// with the cart layer so the stored cart discount matches what checkout
// will charge.
func Discount(cp *coupon.Resolved, subtotal int64) (int64, error) {
	switch cp.Type {
	case coupon.TypeFixed:
		d := cp.Value.IntPart()
		if d > subtotal {
			d = subtotal
		}
		if d < 0 {
			d = 0
		}
		return d, nil
	case coupon.TypePercentage:
		d := decimal.NewFromInt(subtotal).
			Mul(cp.Value).
			Div(hundred).
			Round(0).
			IntPart()
		if cp.MaxDiscount > 0 && d > cp.MaxDiscount {
			d = cp.MaxDiscount
		}
		if d > subtotal {
			d = subtotal
		}
		if d < 0 {
			d = 0
		}
		return d, nil
	default:
		return 0, fault.Validation("unsupported coupon type %q", cp.Type)
	}
}

// String implements fmt.Stringer for logging.
func (t Totals) String() string {
	return fmt.Sprintf("subtotal=%d shipping=%d tax=%d discount=%d points=%d total=%d",
		t.Subtotal, t.ShippingFee, t.Tax, t.Discount, t.PointsValue, t.Total)
}
