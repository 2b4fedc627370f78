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

	"github.com/calyx-catalog/calyx/internal/app"
	"github.com/calyx-catalog/calyx/internal/audit"
	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/changereq"
	"github.com/calyx-catalog/calyx/internal/directory"
	"github.com/calyx-catalog/calyx/internal/observability"
	"github.com/calyx-catalog/calyx/internal/platform/cache"
	"github.com/calyx-catalog/calyx/internal/platform/db"
	"github.com/calyx-catalog/calyx/internal/scopes"
	"github.com/calyx-catalog/calyx/internal/shared"
	"github.com/calyx-catalog/calyx/internal/vendors"
	"github.com/calyx-catalog/calyx/jobs"
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
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionKey, err := shared.DeriveKey([]byte(cfg.Secret), "session")
	if err != nil {
		logger.Error("derive session key", slog.Any("error", err))
		os.Exit(1)
	}
	csrfKey, err := shared.DeriveKey([]byte(cfg.Secret), "csrf")
	if err != nil {
		logger.Error("derive csrf key", slog.Any("error", err))
		os.Exit(1)
	}
	sessionManager := shared.NewSessionManager(redisClient, "calyx_session", sessionKey, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(csrfKey)

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	catalog := authz.DefaultCatalog()
	directoryService := directory.NewService(dbpool, logger)
	devGrantAll := func() bool { return cfg.DevGrantAll && cfg.IsDevelopment() }
	resolver := authz.NewResolver(catalog, directoryService, cfg.DefaultRole, devGrantAll, logger)

	scopesService := scopes.NewService(dbpool, auditLogger, logger)
	policyCache := authz.NewSnapshotCache(resolver, directoryService, scopesService, cfg.PolicySnapshotTTL, devGrantAll, metrics)

	vendorsRepo := vendors.NewRepository(dbpool)
	vendorsService := vendors.NewService(vendorsRepo, scopesService, logger)

	changeRepo := changereq.NewPGRepository(dbpool, auditLogger)
	changeService := changereq.NewService(changeRepo, resolver, vendorsService, vendorsService, auditLogger, metrics, logger)
	changeQueue := changereq.NewQueueView(changeRepo, resolver, vendorsService, logger)

	vendorsHandler := vendors.NewHandler(logger, vendorsService, changeService)
	changeHandler := changereq.NewHandler(logger, changeService, changeQueue)
	scopesHandler := scopes.NewHandler(logger, scopesService, directoryService, catalog)

	auditService := audit.NewService(audit.NewPGRepository(dbpool))
	auditHandler := audit.NewHandler(logger, auditService, catalog)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Policy:           policyCache,
		VendorsHandler:   vendorsHandler,
		ChangeReqHandler: changeHandler,
		ScopesHandler:    scopesHandler,
		AuditHandler:     auditHandler,
		JobHandler:       jobHandler,
		Pool:             dbpool,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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
