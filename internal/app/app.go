// Package app wires the checkout service: configuration, storage, domain
// services, HTTP transport and background housekeeping. Nothing here holds
// business rules.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/checkout/internal/api"
	"github.com/xenking/checkout/internal/domain/cart"
	"github.com/xenking/checkout/internal/domain/order"
	"github.com/xenking/checkout/internal/storage/postgres"
	"github.com/xenking/checkout/pkg/health"
	"github.com/xenking/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the cart expiry
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Storage.
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	oracle := postgres.NewCatalogOracle(pool)
	resolver := postgres.NewCouponResolver(pool)
	if cfg.Coupon.BloomGuard {
		if err := resolver.LoadBloomGuard(ctx, cfg.Coupon.BloomCapacity, cfg.Coupon.BloomFPR); err != nil {
			return errors.Wrap(err, "load coupon bloom guard")
		}
	}

	// Metrics.
	meter := m.MeterProvider().Meter("checkout")
	ordersCreated, err := meter.Int64Counter("checkout.orders.created")
	if err != nil {
		return errors.Wrap(err, "create orders counter")
	}
	cartsExpired, err := meter.Int64Counter("checkout.carts.expired")
	if err != nil {
		return errors.Wrap(err, "create carts counter")
	}

	// Domain services.
	cartService := cart.NewService(cartRepo, oracle, resolver, cfg.Cart.TTL)
	orderService := order.NewService(orderRepo)
	factory := order.NewFactory(cartRepo, oracle, resolver, orderRepo, cfg.Pricing.Engine())

	// HTTP handlers.
	h := api.NewHandler(cartService, &meteredCreator{inner: factory, created: ordersCreated}, orderService)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-Member-ID", "X-Session-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Background cart expiry sweep.
	go sweepExpiredCarts(ctx, lg, cartRepo, cfg.Cart.SweepInterval, cartsExpired)

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// meteredCreator counts successful checkouts on the way through.
type meteredCreator struct {
	inner   *order.Factory
	created metric.Int64Counter
}

func (c *meteredCreator) CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error) {
	o, err := c.inner.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	c.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("shipping_method", string(o.ShippingMethod)),
	))
	return o, nil
}

// sweepExpiredCarts periodically flips active carts whose TTL has passed.
// Failures are logged and retried on the next tick; the sweep must never
// take the service down.
func sweepExpiredCarts(ctx context.Context, lg *zap.Logger, repo cart.Repository, interval time.Duration, expired metric.Int64Counter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := repo.ExpireStale(ctx, now)
			if err != nil {
				lg.Warn("Cart expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				expired.Add(ctx, n)
				lg.Info("Expired stale carts", zap.Int64("count", n))
			}
		}
	}
}
