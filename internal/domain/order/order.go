// Package order owns the immutable purchase record: the factory that builds
// it atomically from a cart, the repository contract, and the status state
// machines that are the only mutation path after creation.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/pricing"
)

// ErrNotFound is returned when an order does not exist or is soft-deleted.
var ErrNotFound = errors.New("order not found")

// Status is the fulfilment state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus evolves independently of Status but gates some of its
// transitions.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentPartial  PaymentStatus = "partial"
)

// ShippingStatus tracks the physical shipment.
type ShippingStatus string

const (
	ShippingPending   ShippingStatus = "pending"
	ShippingPreparing ShippingStatus = "preparing"
	ShippingShipped   ShippingStatus = "shipped"
	ShippingDelivered ShippingStatus = "delivered"
	ShippingReturned  ShippingStatus = "returned"
)

// Address is snapshotted onto the order at creation; it never references
// the customer's live address book.
type Address struct {
	Recipient  string
	Phone      string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Validate checks the fields an order cannot ship without.
func (a Address) Validate() error {
	switch {
	case a.Recipient == "":
		return errors.New("recipient required")
	case a.Line1 == "":
		return errors.New("address line required")
	case a.City == "":
		return errors.New("city required")
	case a.PostalCode == "":
		return errors.New("postal code required")
	case a.Country == "":
		return errors.New("country required")
	}
	return nil
}

// Order is the aggregate root. Money fields are minor currency units and,
// like the item rows, are append-only after creation: only the three status
// families and their timestamps may change.
type Order struct {
	ID          string
	OrderNumber string
	CustomerID  string

	Status         Status
	PaymentStatus  PaymentStatus
	ShippingStatus ShippingStatus

	Subtotal    int64
	Tax         int64
	ShippingFee int64
	Discount    int64
	PointsValue int64
	Total       int64
	PaidAmount  int64
	Refunded    int64

	CouponCode   string
	PointsEarned int64
	PointsUsed   int64

	ShippingMethod  pricing.ShippingMethod
	PaymentMethod   string
	ShippingAddress Address
	BillingAddress  Address

	Items []Item

	OrderDate   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	RefundedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is an immutable snapshot of the purchased product at order time.
// TotalPrice == UnitPrice * Quantity.
type Item struct {
	ID          string
	OrderID     string
	ProductID   string
	VariationID string
	Name        string
	SKU         string
	Image       string
	Attributes  catalog.Attributes
	UnitPrice   int64
	Quantity    int
	TotalPrice  int64
}

// ListFilter narrows List results. Nil/zero fields are ignored.
type ListFilter struct {
	Status         *Status
	PaymentStatus  *PaymentStatus
	ShippingStatus *ShippingStatus
	CustomerID     string
	From           *time.Time
	To             *time.Time
	// Search matches order number or shipping recipient, case-insensitive.
	Search string
	Page   int
	Limit  int
	// Sort is a whitelisted column name, optionally prefixed with '-' for
	// descending. Default: -order_date.
	Sort string
}

// StatusChange is a partial update applied through the state machine. Nil
// fields are left untouched.
type StatusChange struct {
	Status         *Status
	PaymentStatus  *PaymentStatus
	ShippingStatus *ShippingStatus
}

// Repository defines order persistence. CreateWithConversion must be
// all-or-nothing: the order row, its item rows, the stock decrement and the
// cart conversion commit together or not at all.
type Repository interface {
	// CreateWithConversion inserts the order and its items in one
	// transaction. When convertCartID is non-empty the source cart is
	// flipped to converted inside the same transaction, and stock for every
	// line is decremented with a compare-and-swap that fails the whole
	// transaction on a concurrent drain.
	CreateWithConversion(ctx context.Context, o *Order, convertCartID string) error
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, int64, error)
	// UpdateStatus persists the status families and any transition
	// timestamps the service stamped.
	UpdateStatus(ctx context.Context, o *Order) error
	// SoftDelete hides the order from reads without removing rows.
	SoftDelete(ctx context.Context, id string) error
}
