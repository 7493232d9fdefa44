// Package catalog exposes the read-only price and availability lookup the
// checkout core consumes. The catalog's own CRUD lives elsewhere; this
// package only defines the oracle contract and the point-in-time snapshot
// it returns.
package catalog

import (
	"context"
	"fmt"

	"github.com/xenking/checkout/internal/domain/fault"
)

// StockStatus describes a product's availability bucket.
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockLowStock   StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
)

// Snapshot is the authoritative catalog state for a product (or one of its
// variations) at lookup time. Orders copy these fields; they never track
// later catalog edits.
type Snapshot struct {
	ProductID      string
	VariationID    string
	Name           string
	SKU            string
	Image          string
	UnitPrice      int64
	AvailableStock int
	StockStatus    StockStatus
	Attributes     Attributes
}

// Oracle is the read-path lookup consumed by cart mutation and checkout.
// Implementations must bound the lookup with the context deadline; a failed
// lookup aborts the surrounding mutation.
type Oracle interface {
	// Lookup returns the current snapshot for productID, narrowed to
	// variationID when non-empty. Missing or unpublished products return
	// NotFoundError.
	Lookup(ctx context.Context, productID, variationID string) (*Snapshot, error)
}

// NotFoundError indicates a product or variation that does not exist or is
// not published.
type NotFoundError struct {
	ProductID   string
	VariationID string
}

func (e *NotFoundError) Error() string {
	if e.VariationID != "" {
		return fmt.Sprintf("product %s variation %s not found", e.ProductID, e.VariationID)
	}
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// FaultCode implements fault.Coder.
func (e *NotFoundError) FaultCode() fault.Code { return fault.CodeNotFound }

// InsufficientStockError indicates the requested quantity exceeds what the
// catalog can supply. Available carries the remaining quantity so callers
// can offer a corrective action instead of a bare failure.
type InsufficientStockError struct {
	ProductID   string
	VariationID string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// FaultCode implements fault.Coder.
func (e *InsufficientStockError) FaultCode() fault.Code { return fault.CodeConflict }
