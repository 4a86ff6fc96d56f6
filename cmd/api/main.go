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

	"connect-platform/internal/auth"
	"connect-platform/internal/availability"
	"connect-platform/internal/broker"
	"connect-platform/internal/config"
	"connect-platform/internal/history"
	"connect-platform/internal/httpapi"
	"connect-platform/internal/ledger"
	"connect-platform/internal/notify"
	"connect-platform/internal/observability"
	"connect-platform/internal/presence"
	"connect-platform/internal/ratelimit"
	"connect-platform/internal/realtime"
	"connect-platform/pkg/logger"
	"connect-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	observability.RegisterMetrics()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Explicit dependencies; nothing below reads globals.
	registry := presence.NewRegistry()
	dispatcher := notify.NewDispatcher(notify.LogSender{Log: log}, log)
	avail := availability.NewPostgresSource(db)
	brokerStore := broker.NewPostgresStore(db)
	ledgerStore := ledger.NewPostgresStore(db)

	hist := history.NewService(ledgerStore, brokerStore, rdb, cfg.Cache.TTL, log)
	engine := ledger.NewEngine(ledgerStore, hist, log)
	brokerSvc := broker.NewService(broker.Deps{
		Store:        brokerStore,
		Availability: avail,
		Presence:     registry,
		Notifier:     dispatcher,
		Logger:       log,
	})
	if _, err := brokerSvc.RecoverPending(rootCtx); err != nil {
		log.Error("pending request recovery failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(observability.Middleware())

	registerRoutes(r, routeDeps{
		Handlers: httpapi.Handlers{
			Broker:       brokerSvc,
			Ledger:       engine,
			History:      hist,
			Availability: avail,
		},
		Hub:     realtime.NewHub(registry, cfg.Realtime, log),
		AuthMW:  auth.RequireAccessToken(authManager),
		Limiter: ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute),
		Health: map[string]HealthChecker{
			"postgres": func(ctx context.Context) error { return utils.HealthCheck(ctx, db, time.Second) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Websocket writes set their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Pending requests stay PENDING and are re-armed by RecoverPending on the next start.
	brokerSvc.Close()
	dispatcher.Wait()
}
