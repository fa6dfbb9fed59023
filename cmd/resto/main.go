package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/app"
	"github.com/odyssey-erp/resto-ledger/internal/inventory"
	"github.com/odyssey-erp/resto-ledger/internal/masterdata/branches"
	"github.com/odyssey-erp/resto-ledger/internal/observability"
	"github.com/odyssey-erp/resto-ledger/internal/platform/cache"
	"github.com/odyssey-erp/resto-ledger/internal/platform/db"
	"github.com/odyssey-erp/resto-ledger/internal/rbac"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
	"github.com/odyssey-erp/resto-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	policy, err := cfg.Policy()
	if err != nil {
		logger.Error("mapping policy", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)

	ledgerRunner := db.NewRunner(dbpool, cfg.DBTxMaxAttempts)
	ledgerRunner.OnRetry(func(attempt int, err error) {
		metrics.TxRetry("ledger")
		logger.Warn("retrying ledger transaction", slog.Int("attempt", attempt), slog.Any("error", err))
	})
	inventoryRunner := db.NewRunner(dbpool, cfg.DBTxMaxAttempts)
	inventoryRunner.OnRetry(func(attempt int, err error) {
		metrics.TxRetry("inventory")
		logger.Warn("retrying inventory transaction", slog.Int("attempt", attempt), slog.Any("error", err))
	})

	accountingService := accounting.NewService(accounting.NewRepository(ledgerRunner), auditLogger, metrics, logger)
	resolver := accounting.NewResolver(policy, logger, metrics)
	inventoryService := inventory.NewService(inventory.NewRepository(inventoryRunner), resolver,
		inventory.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeQty},
		inventory.Dependencies{
			Postings: accountingService,
			Audit:    auditLogger,
			Recorder: metrics,
			Logger:   logger,
		})
	branchService := branches.NewService(branches.NewRepository(dbpool))

	rbacService := rbac.NewService(dbpool)
	if err := rbacService.EnsureCatalog(ctx); err != nil {
		logger.Error("seed permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AccountingHandler:  accounting.NewHandler(logger, accountingService, rbacMiddleware),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		BranchHandler:      branches.NewHandler(logger, branchService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("mapping_policy", string(policy)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
