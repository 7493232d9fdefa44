// Command seed-db loads a demo catalog (products, variations, coupons) so a
// fresh database can serve checkouts immediately.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/storage/postgres"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, sku, price, stock, stock_status, published, image, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price,
			stock = EXCLUDED.stock, stock_status = EXCLUDED.stock_status,
			image = EXCLUDED.image, attributes = EXCLUDED.attributes, updated_at = now()`

	upsertVariationSQL = `INSERT INTO product_variations (id, product_id, name, sku, price, stock, stock_status, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price,
			stock = EXCLUDED.stock, stock_status = EXCLUDED.stock_status,
			attributes = EXCLUDED.attributes`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, max_discount, min_subtotal, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			max_discount = EXCLUDED.max_discount, min_subtotal = EXCLUDED.min_subtotal,
			description = EXCLUDED.description`
)

type seedProduct struct {
	id, name, sku string
	price         int64
	stock         int
	image         string
	attributes    catalog.Attributes
	variations    []seedVariation
}

type seedVariation struct {
	id, name, sku string
	price         int64
	stock         int
	attributes    catalog.Attributes
}

var products = []seedProduct{
	{
		id: "tee-classic", name: "Classic Tee", sku: "TEE-001", price: 1990, stock: 120,
		image:      "/images/tee-classic.jpg",
		attributes: catalog.Attributes{catalog.AttrMaterial: "cotton"},
		variations: []seedVariation{
			{id: "tee-classic-s-black", name: "S / Black", sku: "TEE-001-SB", price: 1990, stock: 40,
				attributes: catalog.Attributes{catalog.AttrSize: "S", catalog.AttrColor: "black"}},
			{id: "tee-classic-m-black", name: "M / Black", sku: "TEE-001-MB", price: 1990, stock: 50,
				attributes: catalog.Attributes{catalog.AttrSize: "M", catalog.AttrColor: "black"}},
			{id: "tee-classic-l-white", name: "L / White", sku: "TEE-001-LW", price: 2090, stock: 30,
				attributes: catalog.Attributes{catalog.AttrSize: "L", catalog.AttrColor: "white"}},
		},
	},
	{
		id: "mug-enamel", name: "Enamel Mug", sku: "MUG-010", price: 1450, stock: 200,
		image:      "/images/mug-enamel.jpg",
		attributes: catalog.Attributes{catalog.AttrMaterial: "enamel", catalog.AttrColor: "blue"},
	},
	{
		id: "beans-espresso", name: "Espresso Beans 500g", sku: "CFE-500", price: 1250, stock: 80,
		image:      "/images/beans-espresso.jpg",
		attributes: catalog.Attributes{catalog.AttrWeight: "500g", catalog.AttrFlavor: "dark roast"},
	},
}

type seedCoupon struct {
	code         string
	discountType string
	value        string
	maxDiscount  int64
	minSubtotal  int64
	description  string
}

var coupons = []seedCoupon{
	{code: "WELCOME10", discountType: "percentage", value: "10", maxDiscount: 2_000, description: "10% off your first order"},
	{code: "TENOFF", discountType: "fixed", value: "1000", minSubtotal: 5_000, description: "10 off orders over 50"},
}

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, pool); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		_, err := pool.Exec(ctx, upsertProductSQL,
			p.id, p.name, p.sku, p.price, p.stock, string(catalog.StockInStock),
			p.image, catalog.EncodeAttributes(p.attributes),
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.id)
		}

		for _, v := range p.variations {
			_, err := pool.Exec(ctx, upsertVariationSQL,
				v.id, p.id, v.name, v.sku, v.price, v.stock, string(catalog.StockInStock),
				catalog.EncodeAttributes(v.attributes),
			)
			if err != nil {
				return errors.Wrapf(err, "upsert variation %s", v.id)
			}
		}

		slog.Info("upserted product",
			slog.String("id", p.id),
			slog.Int("variations", len(p.variations)),
		)
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		value, err := decimal.NewFromString(c.value)
		if err != nil {
			return errors.Wrapf(err, "parse value of coupon %s", c.code)
		}

		_, err = pool.Exec(ctx, upsertCouponSQL,
			c.code, c.discountType, value, c.maxDiscount, c.minSubtotal, c.description,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code))
	}

	return nil
}
