// Package app wires configuration, storage, domain services, and the HTTP
// server into a runnable API process.
package app

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/dmereles/vitrine/internal/coupon"
	"github.com/dmereles/vitrine/internal/httpapi"
	"github.com/dmereles/vitrine/internal/notify"
	"github.com/dmereles/vitrine/internal/order"
	"github.com/dmereles/vitrine/internal/payment/mercadopago"
	"github.com/dmereles/vitrine/internal/pricing"
	"github.com/dmereles/vitrine/internal/repository"
	"github.com/dmereles/vitrine/internal/webhook"
	"github.com/dmereles/vitrine/pkg/health"
	"github.com/dmereles/vitrine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("pricing", cfg.Pricing))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.DatabaseCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	cartStore := repository.NewCartStore(pool)

	// Domain services.
	var pricer pricing.Strategy
	switch cfg.Pricing {
	case "coupon":
		pricer = pricing.NewCouponPricer(productRepo, coupon.NewValidator(couponRepo))
	default:
		pricer = pricing.NewPromoPricer(productRepo)
	}
	checkout := order.NewService(cartStore, pricer, orderRepo)

	gateway := mercadopago.NewClient(mercadopago.Config{
		BaseURL:       cfg.Payment.BaseURL,
		AccessToken:   cfg.Payment.AccessToken,
		SuccessURL:    cfg.Payment.SuccessURL,
		FailureURL:    cfg.Payment.FailureURL,
		PayerEmail:    cfg.Payment.PayerEmail,
		PayerDocument: cfg.Payment.PayerDocument,
		Timeout:       cfg.Payment.Timeout,
	})

	var mailer notify.Mailer = notify.NopMailer{}
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     strconv.Itoa(cfg.SMTP.Port),
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		lg.Info("SMTP host not set, confirmation email disabled")
	}

	reconciler := webhook.NewReconciler(gateway, orderRepo, mailer, cfg.SMTP.AdminEmail)

	// HTTP routes: health endpoints + API on one server.
	h := httpapi.NewHandler(productRepo, cartStore, pricer, checkout, orderRepo, gateway, reconciler)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	instrumented := otelhttp.NewHandler(mux, "vitrine-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", httpapi.HeaderSessionID, httpapi.HeaderUserID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Requests: cfg.RateLimit.Max,
				Window:   cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
