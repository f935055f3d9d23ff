package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-bim/atlas-bim/internal/app"
	"github.com/atlas-bim/atlas-bim/internal/auth"
	"github.com/atlas-bim/atlas-bim/internal/observability"
	"github.com/atlas-bim/atlas-bim/internal/platform/cache"
	"github.com/atlas-bim/atlas-bim/internal/platform/db"
	"github.com/atlas-bim/atlas-bim/internal/rbac"
	"github.com/atlas-bim/atlas-bim/internal/sessions"
	"github.com/atlas-bim/atlas-bim/internal/shared"
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

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	activity := shared.NewActivityLogger(pool, logger)

	rbacRepo := rbac.NewRepository(pool)
	resolver := rbac.NewResolver(rbacRepo, logger, rbac.ResolverConfig{
		CacheTTL: cfg.PermissionCacheTTL,
		Batch:    rbac.BatchConfig{Metrics: metrics},
	})
	defer resolver.Close()

	metrics.RegisterPermissionCache("result", func() observability.CacheSnapshot {
		stats := resolver.CacheMetrics().ResultCache
		return observability.CacheSnapshot{Hits: stats.Hits, Misses: stats.Misses, Entries: stats.Entries}
	})
	metrics.RegisterPermissionCache("role", func() observability.CacheSnapshot {
		stats := resolver.CacheMetrics().RoleCache
		return observability.CacheSnapshot{Hits: stats.Hits, Misses: stats.Misses, Entries: stats.Entries}
	})

	broadcaster := rbac.NewBroadcaster(redisClient, logger)
	go broadcaster.Listen(ctx, resolver)

	ownership := rbac.NewOwnerRegistry()
	ownership.Register(rbac.ResourceNote, rbac.NoteOwnership{Pool: pool})
	ownership.Register(rbac.ResourceDocument, rbac.DocumentOwnership{Pool: pool})
	ownership.Register(rbac.ResourceTask, rbac.TaskOwnership{Pool: pool})

	gate := rbac.Middleware{
		Resolver:  resolver,
		Repo:      rbacRepo,
		Ownership: ownership,
		Metrics:   metrics,
		Logger:    logger,
	}

	rbacService := rbac.NewService(rbacRepo, resolver, broadcaster, activity, logger)
	permissionsHandler := rbac.NewHandler(logger, rbacService, gate)

	sessionRepo := sessions.NewRepository(pool)
	sessionService, err := sessions.NewService(sessionRepo, logger, cfg.SessionLifetime)
	if err != nil {
		logger.Error("init sessions", slog.Any("error", err))
		os.Exit(1)
	}

	tokens := auth.NewTokenIssuer(cfg.AuthSecret, "atlas-bim", cfg.TokenTTL)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessionService, tokens, activity, logger)
	authHandler := auth.NewHandler(logger, authService, sessionService, gate)

	authenticator := auth.Authenticator{
		Tokens:   tokens,
		Sessions: sessionService,
		Users:    authRepo,
		Logger:   logger,
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticator:      &authenticator,
		AuthHandler:        authHandler,
		PermissionsHandler: permissionsHandler,
		Pool:               pool,
		Metrics:            metrics,
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
