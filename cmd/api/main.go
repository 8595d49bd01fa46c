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

	"callhelm/internal/auth"
	"callhelm/internal/calls"
	"callhelm/internal/config"
	"callhelm/internal/dashboard"
	"callhelm/internal/httpapi"
	"callhelm/internal/reporting"
	"callhelm/internal/telephony"
	"callhelm/internal/usage"
	"callhelm/pkg/db"
	"callhelm/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; ignored when the file is absent.
	_ = godotenv.Load()

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

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	database, err := db.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), db.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	rdb, err := db.OpenRedis(rootCtx, db.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Domain wiring.
	callStore := calls.NewPostgresStore(database)
	directory := calls.NewPostgresDirectory(database)
	usageService := usage.NewService(usage.NewPostgresRepo(database))
	providers := telephony.NewRegistry(cfg.Telephony, !cfg.IsProduction())
	slots := redisSlots{rdb: rdb, limit: cfg.Dashboard.ConcurrentCallLimit}

	callService := calls.NewService(
		callStore, directory, providers, usageService, slots,
		cfg.Telephony.WebhookBaseURL, cfg.Telephony.RecordCalls, log,
	)

	// Board source needs both store and directory reads.
	hub := dashboard.NewHub(rootCtx,
		boardSource{PostgresStore: callStore, PostgresDirectory: directory},
		func(orgID string) dashboard.Notifier {
			return dashboard.NewPGNotifier(cfg.PostgresDSN(), orgID, log)
		},
		dashboard.Options{
			PollInterval:   cfg.Dashboard.PollInterval,
			StaleThreshold: cfg.Dashboard.StaleThreshold,
			TickInterval:   cfg.Dashboard.TickInterval,
		},
		log,
	)

	reportingService := reporting.NewService(reporting.NewStoreRepository(callStore))

	handlers := httpapi.Handlers{
		Auth:      authManager,
		Calls:     callService,
		Dashboard: hub,
		Usage:     usageService,
		Reporting: reportingService,
	}
	webhook := telephony.WebhookHandler{
		Sink:        callService,
		OrgResolver: callService.ResolveOrgByExternalID,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, webhook, auth.RequireAccessToken(authManager), database, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", cfg.Telephony.ActiveProvider)
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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// redisSlots backs the per-org concurrent call cap with the Lua counter in
// pkg/db. The TTL covers crashed processes that never release.
type redisSlots struct {
	rdb   *redis.Client
	limit int
}

func (s redisSlots) Acquire(ctx context.Context, orgID string) (bool, error) {
	return db.AcquireCallSlot(ctx, s.rdb, "calls:active:"+orgID, s.limit, 4*time.Hour)
}

func (s redisSlots) Release(ctx context.Context, orgID string) error {
	return db.ReleaseCallSlot(ctx, s.rdb, "calls:active:"+orgID)
}

// boardSource joins the two calls read surfaces the dashboard needs.
type boardSource struct {
	*calls.PostgresStore
	*calls.PostgresDirectory
}
