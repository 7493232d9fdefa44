package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/coupon"
	"github.com/xenking/checkout/internal/domain/fault"
	"github.com/xenking/checkout/internal/domain/order"
	"github.com/xenking/checkout/internal/domain/pricing"
)

// checkoutTimeout bounds the whole checkout transaction. On expiry the
// transaction rolls back; the source cart is never left converted without
// a committed order.
const checkoutTimeout = 10 * time.Second

const (
	insertOrderSQL = `INSERT INTO orders (
		id, order_number, customer_id, status, payment_status, shipping_status,
		subtotal, tax, shipping_fee, discount, points_value, total,
		coupon_code, points_earned, points_used,
		shipping_method, payment_method, shipping_address, billing_address, order_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	insertOrderItemSQL = `INSERT INTO order_items (
		id, order_id, product_id, variation_id, name, sku, image, attributes,
		unit_price, quantity, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	decrementProductStockSQL = `UPDATE products
		SET stock = stock - $2,
		    stock_status = CASE WHEN stock - $2 = 0 THEN 'out_of_stock' ELSE stock_status END,
		    updated_at = now()
		WHERE id = $1 AND stock >= $2`

	getProductStockSQL = `SELECT stock FROM products WHERE id = $1`

	decrementVariationStockSQL = `UPDATE product_variations
		SET stock = stock - $2,
		    stock_status = CASE WHEN stock - $2 = 0 THEN 'out_of_stock' ELSE stock_status END
		WHERE id = $1 AND stock >= $2`

	getVariationStockSQL = `SELECT stock FROM product_variations WHERE id = $1`

	convertCartSQL = `UPDATE carts SET status = 'converted', updated_at = now()
		WHERE id = $1 AND status = 'active'`

	redeemCouponSQL = `UPDATE coupons SET uses = uses + 1
		WHERE code = UPPER($1) AND (max_uses = 0 OR uses < max_uses)`

	orderColumns = `id, order_number, customer_id, status, payment_status, shipping_status,
		subtotal, tax, shipping_fee, discount, points_value, total, paid_amount, refunded_amount,
		coupon_code, points_earned, points_used, shipping_method, payment_method,
		shipping_address, billing_address, order_date,
		paid_at, shipped_at, delivered_at, cancelled_at, refunded_at, created_at, updated_at`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND deleted_at IS NULL`

	listOrderItemsSQL = `SELECT id, order_id, product_id, variation_id, name, sku, image, attributes,
		unit_price, quantity, total_price
		FROM order_items WHERE order_id = $1 ORDER BY created_at, id`

	updateOrderStatusSQL = `UPDATE orders SET
		status = $2, payment_status = $3, shipping_status = $4,
		paid_amount = $5, refunded_amount = $6,
		paid_at = $7, shipped_at = $8, delivered_at = $9, cancelled_at = $10, refunded_at = $11,
		updated_at = $12
		WHERE id = $1 AND deleted_at IS NULL`

	softDeleteOrderSQL = `UPDATE orders SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
)

// sortColumns whitelists the List sort targets.
var sortColumns = map[string]string{
	"order_date":   "order_date",
	"total":        "total",
	"order_number": "order_number",
	"created_at":   "created_at",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateWithConversion inserts the order and its items, decrements stock
// per line with a compare-and-swap, redeems the coupon use, and flips the
// source cart to converted, all in one transaction. Any failure, including
// a timeout, rolls back the lot: no order without items, no burned coupon
// use or converted cart without a committed order.
func (r *OrderRepository) CreateWithConversion(ctx context.Context, o *order.Order, convertCartID string) error {
	ctx, cancel := context.WithTimeout(ctx, checkoutTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(err, "beginning checkout transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := r.insertOrder(ctx, tx, o); err != nil {
		return err
	}
	for i := range o.Items {
		if err := r.insertItem(ctx, tx, &o.Items[i]); err != nil {
			return err
		}
		if err := r.decrementStock(ctx, tx, &o.Items[i]); err != nil {
			return err
		}
	}

	if o.CouponCode != "" {
		// Conditional like the stock decrement: losing the race for the
		// last permitted use fails the whole checkout.
		tag, err := tx.Exec(ctx, redeemCouponSQL, o.CouponCode)
		if err != nil {
			return classify(err, "redeeming coupon %q", o.CouponCode)
		}
		if tag.RowsAffected() == 0 {
			return &coupon.InvalidError{Code: o.CouponCode, Reason: "usage limit reached"}
		}
	}

	if convertCartID != "" {
		tag, err := tx.Exec(ctx, convertCartSQL, convertCartID)
		if err != nil {
			return classify(err, "converting cart %q", convertCartID)
		}
		if tag.RowsAffected() == 0 {
			return fault.Conflict("cart %s is no longer active", convertCartID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err, "committing order %q", o.ID)
	}
	return nil
}

func (r *OrderRepository) insertOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	_, err := tx.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderNumber, o.CustomerID,
		string(o.Status), string(o.PaymentStatus), string(o.ShippingStatus),
		o.Subtotal, o.Tax, o.ShippingFee, o.Discount, o.PointsValue, o.Total,
		o.CouponCode, o.PointsEarned, o.PointsUsed,
		string(o.ShippingMethod), o.PaymentMethod,
		encodeAddress(o.ShippingAddress), encodeAddress(o.BillingAddress), o.OrderDate,
	)
	if err != nil {
		return classify(err, "inserting order %q", o.ID)
	}
	return nil
}

func (r *OrderRepository) insertItem(ctx context.Context, tx pgx.Tx, it *order.Item) error {
	_, err := tx.Exec(ctx, insertOrderItemSQL,
		it.ID, it.OrderID, it.ProductID, it.VariationID,
		it.Name, it.SKU, it.Image, catalog.EncodeAttributes(it.Attributes),
		it.UnitPrice, it.Quantity, it.TotalPrice,
	)
	if err != nil {
		return classify(err, "inserting item of order %q", it.OrderID)
	}
	return nil
}

// decrementStock takes the line's quantity out of stock with a conditional
// update. Zero rows affected means a concurrent checkout drained the stock
// first; the remaining quantity is read back for the conflict error.
func (r *OrderRepository) decrementStock(ctx context.Context, tx pgx.Tx, it *order.Item) error {
	decSQL, stockSQL, id := decrementProductStockSQL, getProductStockSQL, it.ProductID
	if it.VariationID != "" {
		decSQL, stockSQL, id = decrementVariationStockSQL, getVariationStockSQL, it.VariationID
	}

	tag, err := tx.Exec(ctx, decSQL, id, it.Quantity)
	if err != nil {
		return classify(err, "decrementing stock of %q", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var available int
	if err := tx.QueryRow(ctx, stockSQL, id).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &catalog.NotFoundError{ProductID: it.ProductID, VariationID: it.VariationID}
		}
		return classify(err, "reading stock of %q", id)
	}
	return &catalog.InsufficientStockError{
		ProductID:   it.ProductID,
		VariationID: it.VariationID,
		Requested:   it.Quantity,
		Available:   available,
	}
}

// GetByID returns the hydrated order or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, classify(err, "getting order %q", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, classify(err, "scanning order %q", id)
	}

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// List returns a filtered page of orders (items not hydrated) plus the
// total match count.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int64, error) {
	where, args := buildOrderFilter(f)

	var total int64
	countSQL := "SELECT count(*) FROM orders" + where
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, classify(err, "counting orders")
	}

	orderBy, err := buildOrderSort(f.Sort)
	if err != nil {
		return nil, 0, err
	}

	pageSQL := fmt.Sprintf("SELECT %s FROM orders%s%s LIMIT $%d OFFSET $%d",
		orderColumns, where, orderBy, len(args)+1, len(args)+2)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := r.pool.Query(ctx, pageSQL, args...)
	if err != nil {
		return nil, 0, classify(err, "listing orders")
	}

	collected, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, classify(err, "scanning orders")
	}

	out := make([]order.Order, len(collected))
	for i, o := range collected {
		out[i] = *o
	}
	return out, total, nil
}

// UpdateStatus persists the status families and transition timestamps the
// domain already validated and stamped.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), string(o.ShippingStatus),
		o.PaidAmount, o.Refunded,
		o.PaidAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.RefundedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return classify(err, "updating status of order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// SoftDelete hides the order from all reads without removing rows.
func (r *OrderRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, softDeleteOrderSQL, id)
	if err != nil {
		return classify(err, "soft-deleting order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.pool.Query(ctx, listOrderItemsSQL, orderID)
	if err != nil {
		return nil, classify(err, "listing items of order %q", orderID)
	}
	return pgx.CollectRows(rows, scanOrderItem)
}

// buildOrderFilter assembles the WHERE clause for List. Soft-deleted rows
// are always excluded.
func buildOrderFilter(f order.ListFilter) (string, []any) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.PaymentStatus != nil {
		add("payment_status = $%d", string(*f.PaymentStatus))
	}
	if f.ShippingStatus != nil {
		add("shipping_status = $%d", string(*f.ShippingStatus))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.From != nil {
		add("order_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("order_date < $%d", *f.To)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(order_number ILIKE $%d OR shipping_address->>'recipient' ILIKE $%d)", n, n))
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildOrderSort(sort string) (string, error) {
	if sort == "" {
		sort = "-order_date"
	}
	dir := " ASC"
	if strings.HasPrefix(sort, "-") {
		dir = " DESC"
		sort = sort[1:]
	}
	col, ok := sortColumns[sort]
	if !ok {
		return "", fault.Validation("unsupported sort column %q", sort)
	}
	return " ORDER BY " + col + dir, nil
}

// encodeAddress serializes a snapshotted address to JSONB. The "recipient"
// key is also matched by the List free-text search; optional fields are
// omitted when empty.
func encodeAddress(a order.Address) []byte {
	e := &jx.Encoder{}
	e.ObjStart()
	field := func(key, val string, optional bool) {
		if optional && val == "" {
			return
		}
		e.FieldStart(key)
		e.Str(val)
	}
	field("recipient", a.Recipient, false)
	field("phone", a.Phone, true)
	field("line1", a.Line1, false)
	field("line2", a.Line2, true)
	field("city", a.City, false)
	field("region", a.Region, true)
	field("postal_code", a.PostalCode, false)
	field("country", a.Country, false)
	e.ObjEnd()
	return e.Bytes()
}

func decodeAddress(raw []byte) (order.Address, error) {
	var a order.Address
	d := jx.DecodeBytes(raw)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		switch key {
		case "recipient":
			a.Recipient = v
		case "phone":
			a.Phone = v
		case "line1":
			a.Line1 = v
		case "line2":
			a.Line2 = v
		case "city":
			a.City = v
		case "region":
			a.Region = v
		case "postal_code":
			a.PostalCode = v
		case "country":
			a.Country = v
		}
		return nil
	}); err != nil {
		return order.Address{}, errors.Wrap(err, "decode address")
	}
	return a, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o                         order.Order
		status, payment, shipping string
		method                    string
		shipAddr, billAddr        []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &status, &payment, &shipping,
		&o.Subtotal, &o.Tax, &o.ShippingFee, &o.Discount, &o.PointsValue, &o.Total,
		&o.PaidAmount, &o.Refunded,
		&o.CouponCode, &o.PointsEarned, &o.PointsUsed, &method, &o.PaymentMethod,
		&shipAddr, &billAddr, &o.OrderDate,
		&o.PaidAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.RefundedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payment)
	o.ShippingStatus = order.ShippingStatus(shipping)
	o.ShippingMethod = pricing.ShippingMethod(method)

	if o.ShippingAddress, err = decodeAddress(shipAddr); err != nil {
		return nil, errors.Wrapf(err, "order %q shipping address", o.ID)
	}
	if o.BillingAddress, err = decodeAddress(billAddr); err != nil {
		return nil, errors.Wrapf(err, "order %q billing address", o.ID)
	}
	return &o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it      order.Item
		rawAttr []byte
	)
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.VariationID,
		&it.Name, &it.SKU, &it.Image, &rawAttr,
		&it.UnitPrice, &it.Quantity, &it.TotalPrice,
	)
	if err != nil {
		return it, err
	}

	it.Attributes, err = catalog.DecodeAttributes(rawAttr)
	if err != nil {
		return it, errors.Wrapf(err, "order item %q attributes", it.ID)
	}
	return it, nil
}
