package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/fault"
)

// lookupTimeout bounds a single oracle lookup. A timed-out lookup aborts
// the surrounding cart mutation or checkout instead of partially applying.
const lookupTimeout = 3 * time.Second

const (
	lookupProductSQL = `SELECT id, '', name, sku, image, price, stock, stock_status, attributes
		FROM products WHERE id = $1 AND published`

	lookupVariationSQL = `SELECT p.id, v.id, p.name || ' ' || v.name, v.sku, p.image, v.price, v.stock, v.stock_status, v.attributes
		FROM product_variations v
		JOIN products p ON p.id = v.product_id
		WHERE p.id = $1 AND v.id = $2 AND p.published`
)

var _ catalog.Oracle = (*CatalogOracle)(nil)

// CatalogOracle implements catalog.Oracle against the products tables. It
// is strictly read-only; stock decrements happen inside the order
// repository's checkout transaction.
type CatalogOracle struct {
	pool *pgxpool.Pool
}

// NewCatalogOracle returns a CatalogOracle that uses the given pool.
func NewCatalogOracle(pool *pgxpool.Pool) *CatalogOracle {
	return &CatalogOracle{pool: pool}
}

// Lookup returns the current catalog snapshot for a product or variation.
// Missing and unpublished products yield catalog.NotFoundError; everything
// else from the store is reported transient so callers may retry.
func (o *CatalogOracle) Lookup(ctx context.Context, productID, variationID string) (*catalog.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var rows pgx.Rows
	var err error
	if variationID == "" {
		rows, err = o.pool.Query(ctx, lookupProductSQL, productID)
	} else {
		rows, err = o.pool.Query(ctx, lookupVariationSQL, productID, variationID)
	}
	if err != nil {
		return nil, fault.Transient(err, "catalog lookup for product %q", productID)
	}

	snap, err := pgx.CollectExactlyOneRow(rows, scanSnapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &catalog.NotFoundError{ProductID: productID, VariationID: variationID}
		}
		return nil, fault.Transient(err, "catalog lookup for product %q", productID)
	}
	return snap, nil
}

func scanSnapshot(row pgx.CollectableRow) (*catalog.Snapshot, error) {
	var (
		s       catalog.Snapshot
		status  string
		rawAttr []byte
	)
	err := row.Scan(
		&s.ProductID, &s.VariationID, &s.Name, &s.SKU, &s.Image,
		&s.UnitPrice, &s.AvailableStock, &status, &rawAttr,
	)
	if err != nil {
		return nil, err
	}

	s.StockStatus = catalog.StockStatus(status)
	s.Attributes, err = catalog.DecodeAttributes(rawAttr)
	if err != nil {
		return nil, errors.Wrapf(err, "product %q attributes", s.ProductID)
	}
	return &s, nil
}
