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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/zidwell/backend/internal/auth"
	"github.com/zidwell/backend/internal/cache"
	"github.com/zidwell/backend/internal/config"
	"github.com/zidwell/backend/internal/db"
	"github.com/zidwell/backend/internal/execution"
	"github.com/zidwell/backend/internal/handlers"
	"github.com/zidwell/backend/internal/ledger"
	"github.com/zidwell/backend/internal/metrics"
	"github.com/zidwell/backend/internal/middleware"
	"github.com/zidwell/backend/internal/provider"
	"github.com/zidwell/backend/internal/repository"
	"github.com/zidwell/backend/internal/router"
	"github.com/zidwell/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool, logger); err != nil {
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
	slog.Info("River migrations applied")

	// Metrics
	m := metrics.New(prometheus.DefaultRegisterer)

	// Balance cache (optional)
	var balanceCache *cache.BalanceCache
	if cfg.CacheEnabled() {
		client := cache.NewClient(cfg.RedisAddrs, cfg.RedisPassword, len(cfg.RedisAddrs) > 1)
		balanceCache = cache.NewBalanceCache(client, cfg.WalletCacheTTL)
		defer balanceCache.Close()
		if err := balanceCache.Ping(ctx); err != nil {
			slog.Warn("Redis unreachable, balance reads fall through to Postgres", "error", err)
		} else {
			slog.Info("Balance cache enabled", "addrs", cfg.RedisAddrs, "ttl", cfg.WalletCacheTTL)
		}
	}

	// Storage and ledger
	walletRepo := repository.NewWalletRepo(pool)
	txRepo := repository.NewTransactionRepo(pool)
	adjustmentRepo := repository.NewAdjustmentRepo(pool)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Settlement
	orch := services.NewOrchestrator(pool, ledgerSvc, txRepo, logger)
	orch.ActionTimeout = cfg.ActionTimeout
	orch.Observer = m
	if balanceCache != nil {
		orch.Cache = balanceCache
	}

	providerClient := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout, logger)
	providerClient.Observer = m

	reconciler := services.NewReconciler(orch, txRepo, providerClient, cfg.ReconcileMinAge, logger)

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Destination schema init failed", "error", err)
		os.Exit(1)
	}

	// Background reconciliation
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewStatusCheckWorker(reconciler, cfg.StatusCheckDelay, logger))
	river.AddWorker(workers, execution.NewSweepWorker(reconciler))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{execution.PeriodicSweep(cfg.ReconcileInterval)},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	scheduler := execution.NewStatusCheckScheduler(riverClient, cfg.StatusCheckDelay)

	// Auth
	authRepo := auth.NewRepository(pool, walletRepo)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	// HTTP
	walletHandler := &handlers.WalletHandler{Wallets: walletRepo, Adjustments: adjustmentRepo, Logger: logger}
	healthHandler := &handlers.HealthHandler{DB: pool, Logger: logger}
	if balanceCache != nil {
		walletHandler.Cache = balanceCache
		healthHandler.Cache = balanceCache
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(authHandler))
	RegisterV1Routes(mux, v1Routes{
		Tokens: authSvc,
		Spend:  txRepo,
		Limits: middleware.Limits{
			MaxPerTransaction: cfg.MaxPerTransactionKobo,
			MaxPerDay:         cfg.MaxPerDayKobo,
		},
		Settlements: &handlers.SettlementHandler{
			Settler:   orch,
			Actions:   providerClient,
			Validator: validator,
			Scheduler: scheduler,
			Logger:    logger,
		},
		Wallets:      walletHandler,
		Transactions: &handlers.TransactionHandler{Store: txRepo, Logger: logger},
		Webhooks:     &handlers.WebhookHandler{Resolver: orch, Secret: cfg.ProviderWebhookSecret, Logger: logger},
		Admin:        &handlers.AdminHandler{Operator: orch, Reconciler: reconciler, Auditor: ledgerSvc, Logger: logger},
		Health:       healthHandler,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(m.Middleware(mux))

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRiver()
	if err := riverClient.Start(riverCtx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	serverAddr := "0.0.0.0:" + cfg.Port
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
		// A settle call may wait the full action timeout before finalizing.
		WriteTimeout: cfg.ActionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ActionTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced to shut down", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client stop failed", "error", err)
	}
	slog.Info("Server stopped")
}
