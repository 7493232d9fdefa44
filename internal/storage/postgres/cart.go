package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout/internal/domain/cart"
)

const (
	insertCartSQL = `INSERT INTO carts (id, member_id, session_id, status, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	cartColumns = `id, member_id, session_id, status, items_count, total_amount,
		applied_coupon_code, coupon_discount, last_activity_at, expires_at, created_at, updated_at`

	getCartByIDSQL = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`

	getActiveCartByMemberSQL = `SELECT ` + cartColumns + ` FROM carts
		WHERE member_id = $1 AND status = 'active'`

	getActiveCartBySessionSQL = `SELECT ` + cartColumns + ` FROM carts
		WHERE session_id = $1 AND status = 'active'`

	setCartStatusSQL = `UPDATE carts SET status = $2, updated_at = now() WHERE id = $1`

	listCartItemsSQL = `SELECT id, cart_id, product_id, variation_id, quantity, created_at, updated_at
		FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`

	getCartItemSQL = `SELECT id, cart_id, product_id, variation_id, quantity, created_at, updated_at
		FROM cart_items WHERE cart_id = $1 AND product_id = $2 AND variation_id = $3`

	getCartItemByIDSQL = `SELECT id, cart_id, product_id, variation_id, quantity, created_at, updated_at
		FROM cart_items WHERE cart_id = $1 AND id = $2`

	upsertCartItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, variation_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, product_id, variation_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now()`

	setCartItemQuantitySQL = `UPDATE cart_items SET quantity = $3, updated_at = now()
		WHERE cart_id = $1 AND id = $2`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`

	deleteAllCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	updateCartSummarySQL = `UPDATE carts
		SET items_count = $2, total_amount = $3, last_activity_at = $4, updated_at = now()
		WHERE id = $1`

	setCartCouponSQL = `UPDATE carts
		SET applied_coupon_code = $2, coupon_discount = $3, updated_at = now()
		WHERE id = $1`

	expireStaleCartsSQL = `UPDATE carts SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND expires_at < $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Item
// upserts are single atomic statements, so interleaved adds on the same
// line converge without application-side locking.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Create inserts a new cart row. The partial unique indexes on
// (member_id|session_id, status='active') turn a double create into a
// conflict instead of a second active cart.
func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	var memberID, sessionID *string
	if id, ok := c.Owner.Member(); ok {
		memberID = &id
	}
	if id, ok := c.Owner.Session(); ok {
		sessionID = &id
	}

	_, err := r.pool.Exec(ctx, insertCartSQL,
		c.ID, memberID, sessionID, string(c.Status), c.LastActivityAt, c.ExpiresAt,
	)
	if err != nil {
		return classify(err, "creating cart %q", c.ID)
	}
	return nil
}

// GetByID returns a cart by its identifier or cart.ErrNotFound.
func (r *CartRepository) GetByID(ctx context.Context, id string) (*cart.Cart, error) {
	return r.queryCart(ctx, getCartByIDSQL, id)
}

// GetActiveByOwner returns the owner's single active cart or cart.ErrNotFound.
func (r *CartRepository) GetActiveByOwner(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	if id, ok := owner.Member(); ok {
		return r.queryCart(ctx, getActiveCartByMemberSQL, id)
	}
	id, _ := owner.Session()
	return r.queryCart(ctx, getActiveCartBySessionSQL, id)
}

// SetStatus flips the cart lifecycle state.
func (r *CartRepository) SetStatus(ctx context.Context, id string, status cart.Status) error {
	tag, err := r.pool.Exec(ctx, setCartStatusSQL, id, string(status))
	if err != nil {
		return classify(err, "setting cart %q status", id)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// ListItems returns all item rows of a cart in insertion order.
func (r *CartRepository) ListItems(ctx context.Context, cartID string) ([]cart.Item, error) {
	rows, err := r.pool.Query(ctx, listCartItemsSQL, cartID)
	if err != nil {
		return nil, classify(err, "listing items of cart %q", cartID)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

// GetItem returns the line for (productID, variationID) or cart.ErrNotFound.
func (r *CartRepository) GetItem(ctx context.Context, cartID, productID, variationID string) (*cart.Item, error) {
	return r.queryItem(ctx, getCartItemSQL, cartID, productID, variationID)
}

// GetItemByID returns a line by its row ID or cart.ErrNotFound.
func (r *CartRepository) GetItemByID(ctx context.Context, cartID, itemID string) (*cart.Item, error) {
	return r.queryItem(ctx, getCartItemByIDSQL, cartID, itemID)
}

// UpsertItem inserts the line or atomically merges quantity into the
// existing (productID, variationID) row.
func (r *CartRepository) UpsertItem(ctx context.Context, cartID, productID, variationID string, quantity int) error {
	_, err := r.pool.Exec(ctx, upsertCartItemSQL,
		uuid.New().String(), cartID, productID, variationID, quantity,
	)
	if err != nil {
		return classify(err, "upserting item into cart %q", cartID)
	}
	return nil
}

// SetItemQuantity overwrites a line's quantity.
func (r *CartRepository) SetItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	tag, err := r.pool.Exec(ctx, setCartItemQuantitySQL, cartID, itemID, quantity)
	if err != nil {
		return classify(err, "setting quantity of item %q", itemID)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// DeleteItem removes a line. Absent lines are a no-op.
func (r *CartRepository) DeleteItem(ctx context.Context, cartID, itemID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartItemSQL, cartID, itemID); err != nil {
		return classify(err, "deleting item %q from cart %q", itemID, cartID)
	}
	return nil
}

// DeleteAllItems empties the cart. Already-empty carts are a no-op.
func (r *CartRepository) DeleteAllItems(ctx context.Context, cartID string) error {
	if _, err := r.pool.Exec(ctx, deleteAllCartItemsSQL, cartID); err != nil {
		return classify(err, "clearing cart %q", cartID)
	}
	return nil
}

// UpdateSummary writes the derived roll-up back to the cart row.
func (r *CartRepository) UpdateSummary(ctx context.Context, cartID string, s cart.Summary) error {
	tag, err := r.pool.Exec(ctx, updateCartSummarySQL,
		cartID, s.ItemsCount, s.TotalAmount, s.LastActivityAt,
	)
	if err != nil {
		return classify(err, "updating summary of cart %q", cartID)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// SetCoupon stores the applied coupon code and its discount.
func (r *CartRepository) SetCoupon(ctx context.Context, cartID, code string, discount int64) error {
	tag, err := r.pool.Exec(ctx, setCartCouponSQL, cartID, code, discount)
	if err != nil {
		return classify(err, "setting coupon on cart %q", cartID)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// ExpireStale flips every active cart whose expiry passed and reports how
// many were flipped.
func (r *CartRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, expireStaleCartsSQL, now)
	if err != nil {
		return 0, classify(err, "expiring stale carts")
	}
	return tag.RowsAffected(), nil
}

func (r *CartRepository) queryCart(ctx context.Context, sql string, args ...any) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "querying cart")
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, classify(err, "scanning cart")
	}
	return c, nil
}

func (r *CartRepository) queryItem(ctx context.Context, sql string, args ...any) (*cart.Item, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "querying cart item")
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, classify(err, "scanning cart item")
	}
	return &item, nil
}

func scanCart(row pgx.CollectableRow) (*cart.Cart, error) {
	var (
		c                   cart.Cart
		memberID, sessionID *string
		status              string
	)
	err := row.Scan(
		&c.ID, &memberID, &sessionID, &status, &c.ItemsCount, &c.TotalAmount,
		&c.AppliedCouponCode, &c.CouponDiscount, &c.LastActivityAt, &c.ExpiresAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var member, session string
	if memberID != nil {
		member = *memberID
	}
	if sessionID != nil {
		session = *sessionID
	}
	owner, err := cart.NewOwner(member, session)
	if err != nil {
		return nil, errors.Wrapf(err, "cart %q has no owner", c.ID)
	}

	c.Owner = owner
	c.Status = cart.Status(status)
	return &c, nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var it cart.Item
	err := row.Scan(
		&it.ID, &it.CartID, &it.ProductID, &it.VariationID, &it.Quantity,
		&it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}
