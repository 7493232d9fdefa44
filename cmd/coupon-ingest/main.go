// Command coupon-ingest loads promotional code dumps into the coupons table.
// Each dump is a gzipped list of candidate codes, one per line; a code is
// accepted only when at least two dumps agree on it. The dumps are far too
// large to dedupe in memory, so agreement is decided with one bloom filter
// per dump.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	numDumps      = 3
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// codeRule describes the discount terms granted to a known coupon code.
type codeRule struct {
	discountType string
	value        string
	maxDiscount  int64
	minSubtotal  int64
	description  string
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {discountType: "percentage", value: "50", maxDiscount: 10_000, description: "50% off entire order"},
	"SIXTYOFF": {discountType: "percentage", value: "60", maxDiscount: 10_000, description: "60% off entire order"},
	"FREESHIP": {discountType: "fixed", value: "600", description: "Shipping fee refunded"},
	"GNULINUX": {discountType: "percentage", value: "15", description: "Open source discount: 15% off"},
	"OVER9000": {discountType: "fixed", value: "900", minSubtotal: 9_000, description: "9 off big orders"},
	"HAPPYHRS": {discountType: "percentage", value: "18", description: "Happy Hours: 18% off"},
}

var defaultRule = codeRule{
	discountType: "percentage",
	value:        "10",
	maxDiscount:  5_000,
	description:  "Valid promo code: 10% off",
}

const upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, max_discount, min_subtotal, description)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (code) DO UPDATE SET
		discount_type = EXCLUDED.discount_type,
		value = EXCLUDED.value,
		max_discount = EXCLUDED.max_discount,
		min_subtotal = EXCLUDED.min_subtotal,
		description = EXCLUDED.description`

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	dumps := make([]string, numDumps)
	for i := range numDumps {
		dumps[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, d := range dumps {
		if _, err := os.Stat(d); err != nil {
			return errors.Wrapf(err, "check dump %s", d)
		}
	}

	slog.Info("filling bloom filters", slog.Int("dumps", numDumps))

	filters, err := fillFilters(ctx, dumps)
	if err != nil {
		return errors.Wrap(err, "fill bloom filters")
	}

	slog.Info("tallying cross-dump agreement")

	accepted, err := tallyCodes(ctx, dumps, filters)
	if err != nil {
		return errors.Wrap(err, "tally codes")
	}

	slog.Info("codes accepted", slog.Int("count", len(accepted)))

	if len(accepted) == 0 {
		slog.Info("nothing to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, pool, accepted); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

// fillFilters populates one bloom filter per dump, all dumps in parallel.
// Codes outside the length bounds are noise and never enter a filter.
func fillFilters(ctx context.Context, dumps []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range dumps {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var n uint64

			err := scanDump(ctx, path, func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				filter.AddString(code)
				if n++; n%progressEvery == 0 {
					slog.Info("fill progress", slog.Int("dump", i+1), slog.Uint64("codes", n))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "fill filter for dump %d", i+1)
			}

			slog.Info("filter filled", slog.Int("dump", i+1), slog.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// tallyCodes re-reads every dump and records, per code, which dumps carry
// it: a code read from dump i that tests positive against any other dump's
// filter earns bit i. Codes with two or more bits set across the merged
// tally are accepted. A filter false positive can only add a spurious bit,
// never drop a genuine one.
func tallyCodes(ctx context.Context, dumps []string, filters []*bloom.BloomFilter) ([]string, error) {
	perDump := make([]map[string]uint, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range dumps {
		g.Go(func() error {
			seen := make(map[string]uint)
			bit := uint(1) << uint(i)
			var n uint64

			err := scanDump(ctx, path, func(code string) {
				if len(code) < minCodeLen || len(code) > maxCodeLen {
					return
				}
				if n++; n%progressEvery == 0 {
					slog.Info("tally progress", slog.Int("dump", i+1), slog.Uint64("codes", n))
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						seen[code] |= bit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "tally dump %d", i+1)
			}

			slog.Info("dump tallied", slog.Int("dump", i+1), slog.Int("candidates", len(seen)))
			perDump[i] = seen
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, seen := range perDump {
		for code, mask := range seen {
			merged[code] |= mask
		}
	}

	var accepted []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			accepted = append(accepted, code)
		}
	}
	return accepted, nil
}

// scanDump streams a gzipped dump line by line through fn, checking for
// cancellation between lines.
func scanDump(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gunzip %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// writeCoupons upserts all accepted coupon codes. Codes are stored
// uppercase; the resolver normalizes lookups the same way.
func writeCoupons(ctx context.Context, pool *pgxpool.Pool, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	for i, code := range codes {
		code = strings.ToUpper(code)
		rule, ok := codeRules[code]
		if !ok {
			rule = defaultRule
		}

		value, err := decimal.NewFromString(rule.value)
		if err != nil {
			return errors.Wrapf(err, "parse decimal value for code %s", code)
		}

		_, err = pool.Exec(ctx, upsertCouponSQL,
			code, rule.discountType, value, rule.maxDiscount, rule.minSubtotal, rule.description,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	return nil
}
