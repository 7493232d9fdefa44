// Package coupon defines the coupon resolution contract consumed at pricing
// time. Validation happens against the order subtotal; the computed discount
// amount itself is the pricing engine's job.
package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout/internal/domain/fault"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypeFixed subtracts a fixed amount, clamped to the subtotal.
	TypeFixed Type = "fixed"
	// TypePercentage subtracts a percentage of the subtotal, clamped to
	// the rule's MaxDiscount when set.
	TypePercentage Type = "percentage"
)

// ErrInvalid is returned for unknown, expired, exhausted or otherwise
// inapplicable coupon codes.
var ErrInvalid = errors.New("invalid coupon code")

// Resolved is a coupon validated against a specific subtotal.
type Resolved struct {
	Code string
	Type Type
	// Value is the fixed amount in minor currency units for TypeFixed, or
	// the percentage for TypePercentage. Decimal so fractional percentages
	// survive.
	Value decimal.Decimal
	// MaxDiscount caps percentage discounts in minor currency units.
	// Zero means uncapped.
	MaxDiscount int64
}

// Resolver validates a coupon code against a subtotal and returns its
// discount terms.
type Resolver interface {
	Resolve(ctx context.Context, code string, subtotal int64) (*Resolved, error)
}

// InvalidError wraps ErrInvalid with the offending code for error reporting.
type InvalidError struct {
	Code   string
	Reason string
}

func (e *InvalidError) Error() string {
	if e.Reason != "" {
		return "invalid coupon " + e.Code + ": " + e.Reason
	}
	return "invalid coupon " + e.Code
}

func (e *InvalidError) Unwrap() error { return ErrInvalid }

// FaultCode implements fault.Coder.
func (e *InvalidError) FaultCode() fault.Code { return fault.CodeValidation }
