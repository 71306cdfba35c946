package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mindpoints/backend/internal/auth"
	"github.com/mindpoints/backend/internal/checkout"
	"github.com/mindpoints/backend/internal/config"
	"github.com/mindpoints/backend/internal/database"
	"github.com/mindpoints/backend/internal/handlers"
	"github.com/mindpoints/backend/internal/ledger"
	"github.com/mindpoints/backend/internal/mailer"
	"github.com/mindpoints/backend/internal/middleware"
	"github.com/mindpoints/backend/internal/notify"
	"github.com/mindpoints/backend/internal/referral"
	"github.com/mindpoints/backend/internal/router"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.App.SlogLevel()}))
	slog.SetDefault(logger)
	slog.Info("Starting points service", "environment", cfg.App.Environment)

	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DB_* is set", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Ledger
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), logger)
	referralSvc := referral.NewService(referral.NewRepository(pool), ledgerSvc, logger)
	checkoutSvc := checkout.NewService(ledgerSvc, referralSvc, logger)

	// Coupon email: the insert func is set after the River client is created.
	notifier := notify.NewNotifier(logger)
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewCouponEmailWorker(mailer.New(cfg.Mail, logger), cfg.App.SiteURL, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.App.EmailWorkers},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	notifier.SetInsert(func(ctx context.Context, args notify.CouponIssuedArgs) error {
		_, err := riverClient.Insert(ctx, args, &river.InsertOpts{MaxAttempts: 5})
		return err
	})

	apiV1Router := router.New(router.Deps{
		Points:        &handlers.PointsHandler{Ledger: ledgerSvc, Notifier: notifier, Logger: logger},
		Checkout:      &handlers.CheckoutHandler{Checkout: checkoutSvc, Logger: logger},
		Referrals:     &handlers.ReferralHandler{Referrals: referralSvc, Logger: logger},
		Verifier:      auth.NewVerifier(cfg.Auth),
		ServiceToken:  cfg.Auth.ServiceToken,
		RedeemLimiter: middleware.NewUserLimiter(cfg.Rate.RedeemPerMinute, cfg.Rate.RedeemBurst),
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)
	registerOpsRoutes(mux, pool)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Handler:        h2c.NewHandler(corsHandler, &http2.Server{}),
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client did not stop cleanly", "error", err)
	}
	slog.Info("Server exited gracefully")
}
