// Package cart owns the mutable pre-purchase shopping cart: its data model,
// persistence contract and mutation service. Carts are created lazily on
// first add and terminated by conversion at checkout or by the expiry sweep.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/checkout/internal/domain/fault"
)

// Status is the cart lifecycle state. Converted and expired carts are
// immutable.
type Status string

const (
	StatusActive    Status = "active"
	StatusAbandoned Status = "abandoned"
	StatusConverted Status = "converted"
	StatusExpired   Status = "expired"
)

// ErrNotFound is returned when a cart does not exist.
var ErrNotFound = errors.New("cart not found")

// Owner identifies who a cart belongs to: exactly one of a member or an
// anonymous session. The zero Owner is invalid; construct via NewOwner.
type Owner struct {
	memberID  string
	sessionID string
}

// NewOwner builds an Owner from the identifiers a caller presents. A member
// ID takes precedence over a session ID when both are given (merge policy);
// neither is a validation error.
func NewOwner(memberID, sessionID string) (Owner, error) {
	switch {
	case memberID != "":
		return Owner{memberID: memberID}, nil
	case sessionID != "":
		return Owner{sessionID: sessionID}, nil
	default:
		return Owner{}, fault.Validation("cart owner requires a member or session id")
	}
}

// Member returns the member ID and whether this is a member-owned cart.
func (o Owner) Member() (string, bool) { return o.memberID, o.memberID != "" }

// Session returns the session ID and whether this is a session-owned cart.
func (o Owner) Session() (string, bool) { return o.sessionID, o.sessionID != "" }

// IsZero reports whether the owner was never set.
func (o Owner) IsZero() bool { return o.memberID == "" && o.sessionID == "" }

// Key returns a stable identifier string for logging.
func (o Owner) Key() string {
	if o.memberID != "" {
		return "member:" + o.memberID
	}
	return "session:" + o.sessionID
}

// Cart is the aggregate root. ItemsCount and TotalAmount are derived from
// the live items and current catalog prices after every mutation; they are
// never trusted as input.
type Cart struct {
	ID                string
	Owner             Owner
	Status            Status
	Items             []Item
	ItemsCount        int
	TotalAmount       int64
	AppliedCouponCode string
	CouponDiscount    int64
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Mutable reports whether the cart still accepts mutations.
func (c *Cart) Mutable() bool { return c.Status == StatusActive }

// Item is one cart line. A (ProductID, VariationID) pair appears at most
// once per cart; repeat adds merge into the existing row.
type Item struct {
	ID          string
	CartID      string
	ProductID   string
	VariationID string
	Quantity    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Summary is the derived cart roll-up written back after each mutation.
type Summary struct {
	ItemsCount     int
	TotalAmount    int64
	LastActivityAt time.Time
}

// Repository defines cart persistence. Item upserts must be atomic so that
// interleaved adds converge (the summary is recomputed from a re-read, never
// incremented).
type Repository interface {
	Create(ctx context.Context, c *Cart) error
	GetByID(ctx context.Context, id string) (*Cart, error)
	// GetActiveByOwner returns the owner's single active cart or ErrNotFound.
	GetActiveByOwner(ctx context.Context, owner Owner) (*Cart, error)
	SetStatus(ctx context.Context, id string, status Status) error

	ListItems(ctx context.Context, cartID string) ([]Item, error)
	GetItem(ctx context.Context, cartID, productID, variationID string) (*Item, error)
	GetItemByID(ctx context.Context, cartID, itemID string) (*Item, error)
	// UpsertItem inserts the line or atomically adds quantity to an
	// existing (productID, variationID) row.
	UpsertItem(ctx context.Context, cartID, productID, variationID string, quantity int) error
	SetItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error
	// DeleteItem is idempotent: removing an absent item succeeds.
	DeleteItem(ctx context.Context, cartID, itemID string) error
	DeleteAllItems(ctx context.Context, cartID string) error

	UpdateSummary(ctx context.Context, cartID string, s Summary) error
	SetCoupon(ctx context.Context, cartID, code string, discount int64) error
	// ExpireStale flips active carts whose expiry has passed and returns
	// how many were expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// ImmutableError indicates a mutation against a converted, expired or
// abandoned cart.
type ImmutableError struct {
	CartID string
	Status Status
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("cart %s is %s and cannot be modified", e.CartID, e.Status)
}

// FaultCode implements fault.Coder.
func (e *ImmutableError) FaultCode() fault.Code { return fault.CodeConflict }
