package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout/internal/domain/coupon"
)

const (
	getCouponSQL = `SELECT code, discount_type, value, max_discount, min_subtotal,
		valid_from, valid_until, max_uses, uses
		FROM coupons WHERE code = UPPER($1)`

	listCouponCodesSQL = `SELECT code FROM coupons`
)

var _ coupon.Resolver = (*CouponResolver)(nil)

// CouponResolver implements coupon.Resolver backed by PostgreSQL, with an
// optional bloom filter in front so the bulk of invalid codes never reach
// the database.
type CouponResolver struct {
	pool  *pgxpool.Pool
	known *bloom.BloomFilter
	now   func() time.Time
}

// NewCouponResolver returns a CouponResolver that uses the given pool.
func NewCouponResolver(pool *pgxpool.Pool) *CouponResolver {
	return &CouponResolver{pool: pool, now: time.Now}
}

// LoadBloomGuard builds the negative-lookup filter from the stored codes.
// The filter only rejects; a positive test still hits the database, so a
// false positive costs one query, never a wrong discount.
func (r *CouponResolver) LoadBloomGuard(ctx context.Context, capacity uint, fpr float64) error {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return classify(err, "loading coupon codes")
	}

	codes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	})
	if err != nil {
		return classify(err, "scanning coupon codes")
	}

	filter := bloom.NewWithEstimates(capacity, fpr)
	for _, code := range codes {
		filter.AddString(code)
	}
	r.known = filter
	return nil
}

// Resolve validates the code against the subtotal and returns its discount
// terms. It is read-only: resolving for a cart preview burns nothing. The
// usage counter is consumed inside the checkout transaction, when an order
// actually commits.
func (r *CouponResolver) Resolve(ctx context.Context, code string, subtotal int64) (*coupon.Resolved, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, &coupon.InvalidError{Code: code, Reason: "empty code"}
	}
	if r.known != nil && !r.known.TestString(normalized) {
		return nil, &coupon.InvalidError{Code: normalized, Reason: "unknown code"}
	}

	rows, err := r.pool.Query(ctx, getCouponSQL, normalized)
	if err != nil {
		return nil, classify(err, "looking up coupon %q", normalized)
	}

	row, err := pgx.CollectExactlyOneRow(rows, scanCouponRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &coupon.InvalidError{Code: normalized, Reason: "unknown code"}
		}
		return nil, classify(err, "looking up coupon %q", normalized)
	}

	now := r.now()
	switch {
	case row.validFrom != nil && now.Before(*row.validFrom):
		return nil, &coupon.InvalidError{Code: normalized, Reason: "not yet valid"}
	case row.validUntil != nil && now.After(*row.validUntil):
		return nil, &coupon.InvalidError{Code: normalized, Reason: "expired"}
	case row.maxUses > 0 && row.uses >= row.maxUses:
		return nil, &coupon.InvalidError{Code: normalized, Reason: "usage limit reached"}
	case row.minSubtotal > 0 && subtotal < row.minSubtotal:
		return nil, &coupon.InvalidError{Code: normalized, Reason: "subtotal below minimum"}
	}

	return &coupon.Resolved{
		Code:        row.code,
		Type:        coupon.Type(row.discountType),
		Value:       row.value,
		MaxDiscount: row.maxDiscount,
	}, nil
}

type couponRow struct {
	code         string
	discountType string
	value        decimal.Decimal
	maxDiscount  int64
	minSubtotal  int64
	validFrom    *time.Time
	validUntil   *time.Time
	maxUses      int
	uses         int
}

func scanCouponRow(row pgx.CollectableRow) (couponRow, error) {
	var c couponRow
	err := row.Scan(
		&c.code, &c.discountType, &c.value, &c.maxDiscount, &c.minSubtotal,
		&c.validFrom, &c.validUntil, &c.maxUses, &c.uses,
	)
	return c, err
}
