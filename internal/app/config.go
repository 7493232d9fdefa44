package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/checkout/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Cart        CartConfig
	Pricing     PricingConfig
	Coupon      CouponConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CartConfig controls cart lifecycle housekeeping.
type CartConfig struct {
	// TTL is the sliding expiry granted to active carts.
	TTL time.Duration `default:"168h" usage:"Active cart time-to-live"`
	// SweepInterval is how often the expiry sweeper flips stale carts.
	SweepInterval time.Duration `default:"10m" usage:"Stale cart sweep interval" flag:"sweep-interval"`
}

// PricingConfig carries the injected pricing knobs. The defaults mirror the
// production tariff but none of them is a contract.
type PricingConfig struct {
	TaxRateBasisPoints    int64 `default:"500"   usage:"Tax rate in basis points (500 = 5%)" flag:"tax-rate-bp"`
	StandardShippingFee   int64 `default:"600"   usage:"Standard shipping fee, minor units" flag:"shipping-standard"`
	ExpressShippingFee    int64 `default:"1200"  usage:"Express shipping fee, minor units" flag:"shipping-express"`
	PickupFee             int64 `default:"0"     usage:"Pickup fee, minor units" flag:"shipping-pickup"`
	FreeShippingThreshold int64 `default:"5000"  usage:"Subtotal waiving the shipping fee, minor units (0 disables)" flag:"free-shipping-threshold"`
	PointValue            int64 `default:"1"     usage:"Minor-unit value of one redeemed loyalty point" flag:"point-value"`
	PointsEarnDivisor     int64 `default:"100"   usage:"Earned points = total / divisor (0 disables)" flag:"points-earn-divisor"`
}

// Engine converts the flat knobs into the pricing engine's config.
func (p PricingConfig) Engine() pricing.Config {
	return pricing.Config{
		TaxRateBasisPoints: p.TaxRateBasisPoints,
		ShippingRates: map[pricing.ShippingMethod]int64{
			pricing.ShippingStandard: p.StandardShippingFee,
			pricing.ShippingExpress:  p.ExpressShippingFee,
			pricing.ShippingPickup:   p.PickupFee,
		},
		FreeShippingThreshold: p.FreeShippingThreshold,
		PointValue:            p.PointValue,
		PointsEarnDivisor:     p.PointsEarnDivisor,
	}
}

// CouponConfig controls the resolver's bloom guard.
type CouponConfig struct {
	BloomCapacity uint    `default:"1000000" usage:"Expected coupon code count for the bloom guard" flag:"bloom-capacity"`
	BloomFPR      float64 `default:"0.001"   usage:"Bloom guard false-positive rate" flag:"bloom-fpr"`
	// BloomGuard can be disabled when the coupon table is tiny.
	BloomGuard bool `default:"true" usage:"Enable the coupon bloom guard" flag:"bloom-guard"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
