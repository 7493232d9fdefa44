package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/coupon"
	"github.com/xenking/checkout/internal/domain/fault"
	"github.com/xenking/checkout/internal/domain/pricing"
)

// Service implements the cart operations exposed to the API layer. Every
// mutation re-validates against the stock oracle before writing and
// recomputes the summary from a fresh re-read of the item rows afterwards.
type Service struct {
	repo    Repository
	oracle  catalog.Oracle
	coupons coupon.Resolver
	ttl     time.Duration
	now     func() time.Time
}

// NewService creates a cart Service. ttl is the sliding expiry granted to
// newly created carts.
func NewService(repo Repository, oracle catalog.Oracle, coupons coupon.Resolver, ttl time.Duration) *Service {
	return &Service{
		repo:    repo,
		oracle:  oracle,
		coupons: coupons,
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetOrCreate returns the owner's single active cart, lazily creating an
// empty one when absent. An active cart past its expiry is flipped to
// expired and replaced.
func (s *Service) GetOrCreate(ctx context.Context, owner Owner) (*Cart, error) {
	if owner.IsZero() {
		return nil, fault.Validation("cart owner requires a member or session id")
	}

	existing, err := s.repo.GetActiveByOwner(ctx, owner)
	switch {
	case err == nil:
		if existing.ExpiresAt.After(s.now()) {
			return s.hydrate(ctx, existing)
		}
		if err := s.repo.SetStatus(ctx, existing.ID, StatusExpired); err != nil {
			return nil, errors.Wrap(err, "expire stale cart")
		}
	case !errors.Is(err, ErrNotFound):
		return nil, errors.Wrap(err, "get active cart")
	}

	now := s.now()
	c := &Cart{
		ID:             uuid.New().String(),
		Owner:          owner,
		Status:         StatusActive,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return c, nil
}

// Get returns the hydrated cart aggregate.
func (s *Service) Get(ctx context.Context, cartID string) (*Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, c)
}

// AddItem adds quantity of a product (or variation) to the cart, merging
// into an existing line. Stock is validated against the oracle for the
// combined quantity before anything is written.
func (s *Service) AddItem(ctx context.Context, cartID, productID, variationID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, fault.Validation("quantity must be greater than 0")
	}

	c, err := s.loadMutable(ctx, cartID)
	if err != nil {
		return nil, err
	}

	snap, err := s.oracle.Lookup(ctx, productID, variationID)
	if err != nil {
		return nil, err
	}

	inCart := 0
	if existing, err := s.repo.GetItem(ctx, cartID, productID, variationID); err == nil {
		inCart = existing.Quantity
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "get cart item")
	}

	if snap.StockStatus == catalog.StockOutOfStock || snap.AvailableStock < inCart+quantity {
		return nil, &catalog.InsufficientStockError{
			ProductID:   productID,
			VariationID: variationID,
			Requested:   inCart + quantity,
			Available:   snap.AvailableStock,
		}
	}

	if err := s.repo.UpsertItem(ctx, cartID, productID, variationID, quantity); err != nil {
		return nil, errors.Wrap(err, "upsert cart item")
	}
	return s.recompute(ctx, c)
}

// UpdateItem sets the absolute quantity of an existing line.
//
// A quantity of 0 is defined as removal, not an error. This is a deliberate
// simplification of the contract: callers shrink a line to nothing through
// the same endpoint they grow it with.
func (s *Service) UpdateItem(ctx context.Context, cartID, itemID string, quantity int) (*Cart, error) {
	if quantity < 0 {
		return nil, fault.Validation("quantity must not be negative")
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, cartID, itemID)
	}

	c, err := s.loadMutable(ctx, cartID)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.GetItemByID(ctx, cartID, itemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fault.NotFound("cart item %s not found", itemID)
		}
		return nil, errors.Wrap(err, "get cart item")
	}

	snap, err := s.oracle.Lookup(ctx, item.ProductID, item.VariationID)
	if err != nil {
		return nil, err
	}
	if snap.StockStatus == catalog.StockOutOfStock || snap.AvailableStock < quantity {
		return nil, &catalog.InsufficientStockError{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Requested:   quantity,
			Available:   snap.AvailableStock,
		}
	}

	if err := s.repo.SetItemQuantity(ctx, cartID, itemID, quantity); err != nil {
		return nil, errors.Wrap(err, "set cart item quantity")
	}
	return s.recompute(ctx, c)
}

// RemoveItem deletes a line. Removing an absent item succeeds silently.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID string) (*Cart, error) {
	c, err := s.loadMutable(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteItem(ctx, cartID, itemID); err != nil {
		return nil, errors.Wrap(err, "delete cart item")
	}
	return s.recompute(ctx, c)
}

// Clear empties the cart. Clearing an already-empty cart succeeds silently.
func (s *Service) Clear(ctx context.Context, cartID string) (*Cart, error) {
	c, err := s.loadMutable(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteAllItems(ctx, cartID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return s.recompute(ctx, c)
}

// ApplyCoupon validates a coupon against the cart's current subtotal and
// stores the code and resulting discount on the cart. This is a preview:
// resolution is read-only, and the coupon use is only consumed when the
// checkout transaction commits.
func (s *Service) ApplyCoupon(ctx context.Context, cartID, code string) (*Cart, error) {
	if code == "" {
		return nil, fault.Validation("coupon code required")
	}

	c, err := s.loadMutable(ctx, cartID)
	if err != nil {
		return nil, err
	}

	c, err = s.recompute(ctx, c)
	if err != nil {
		return nil, err
	}

	resolved, err := s.coupons.Resolve(ctx, code, c.TotalAmount)
	if err != nil {
		return nil, err
	}
	discount, err := pricing.Discount(resolved, c.TotalAmount)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetCoupon(ctx, cartID, resolved.Code, discount); err != nil {
		return nil, errors.Wrap(err, "set cart coupon")
	}
	c.AppliedCouponCode = resolved.Code
	c.CouponDiscount = discount
	return c, nil
}

// RemoveCoupon clears any applied coupon. Idempotent.
func (s *Service) RemoveCoupon(ctx context.Context, cartID string) (*Cart, error) {
	c, err := s.loadMutable(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetCoupon(ctx, cartID, "", 0); err != nil {
		return nil, errors.Wrap(err, "clear cart coupon")
	}
	c.AppliedCouponCode = ""
	c.CouponDiscount = 0
	return s.hydrate(ctx, c)
}

func (s *Service) load(ctx context.Context, cartID string) (*Cart, error) {
	c, err := s.repo.GetByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fault.NotFound("cart %s not found", cartID)
		}
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

func (s *Service) loadMutable(ctx context.Context, cartID string) (*Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !c.Mutable() {
		return nil, &ImmutableError{CartID: c.ID, Status: c.Status}
	}
	return c, nil
}

// recompute derives the summary by re-reading every item row and pricing it
// against the oracle. It never increments cached totals, so interleaved
// mutations converge. Items whose product has since vanished from the
// catalog contribute nothing; transient oracle failures abort.
func (s *Service) recompute(ctx context.Context, c *Cart) (*Cart, error) {
	items, err := s.repo.ListItems(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}

	var total int64
	for _, item := range items {
		snap, err := s.oracle.Lookup(ctx, item.ProductID, item.VariationID)
		if err != nil {
			var nf *catalog.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return nil, errors.Wrap(err, "price cart item")
		}
		total += snap.UnitPrice * int64(item.Quantity)
	}

	sum := Summary{
		ItemsCount:     len(items),
		TotalAmount:    total,
		LastActivityAt: s.now(),
	}
	if err := s.repo.UpdateSummary(ctx, c.ID, sum); err != nil {
		return nil, errors.Wrap(err, "update cart summary")
	}

	c.Items = items
	c.ItemsCount = sum.ItemsCount
	c.TotalAmount = sum.TotalAmount
	c.LastActivityAt = sum.LastActivityAt
	return c, nil
}

// hydrate attaches the item rows without touching the stored summary.
func (s *Service) hydrate(ctx context.Context, c *Cart) (*Cart, error) {
	items, err := s.repo.ListItems(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	c.Items = items
	return c, nil
}
