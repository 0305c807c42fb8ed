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

	"fleetcall/internal/audit"
	"fleetcall/internal/auth"
	"fleetcall/internal/cache"
	"fleetcall/internal/calls"
	"fleetcall/internal/config"
	"fleetcall/internal/dialer"
	"fleetcall/internal/stream"
	"fleetcall/internal/telephony"
	"fleetcall/pkg/logger"
	"fleetcall/pkg/utils"

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

	registry, err := telephony.NewRegistry(cfg.Dialer.DefaultProvider,
		telephony.NewBolnaProvider(telephony.BolnaConfig{
			ServerURL:    cfg.Bolna.ServerURL,
			APIKey:       cfg.Bolna.APIKey,
			WebhookURL:   cfg.Bolna.WebhookURL,
			AgentName:    cfg.Bolna.AgentName,
			SystemPrompt: cfg.Bolna.SystemPrompt,
			FirstMessage: cfg.Bolna.FirstMessage,
			Language:     cfg.Bolna.Language,
			LLMProvider:  cfg.Bolna.LLMProvider,
			LLMModel:     cfg.Bolna.LLMModel,
			Carrier:      cfg.Bolna.Carrier,
		}),
		telephony.NewTataProvider(telephony.TataConfig{
			APIURL:        cfg.Tata.APIURL,
			APIKey:        cfg.Tata.APIKey,
			VirtualNumber: cfg.Tata.VirtualNumber,
			AgentNumber:   cfg.Tata.AgentNumber,
			WebhookURL:    cfg.Tata.WebhookURL,
		}),
	)
	if err != nil {
		log.Error("provider registry init failed", "err", err)
		os.Exit(1)
	}

	store := calls.NewPostgresStore(db)
	bus := stream.NewBus()
	lifecycle := calls.NewLifecycle(store, bus)
	dialerSvc := dialer.NewService(store, lifecycle, registry, dialer.NewRedisGuard(rdb), dialer.Config{
		ConcurrencyCap: cfg.Dialer.ConcurrencyCap,
		BatchSize:      cfg.Dialer.BatchSize,
		CallTimeout:    cfg.Dialer.CallTimeout,
		DispatchDelay:  cfg.Dialer.DispatchDelay,
	})
	auditSvc := audit.NewService(audit.NewMemoryRepo())
	statsCache := cache.New(cfg.Cache.Capacity)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, deps{
		cfg:       cfg,
		auth:      authManager,
		store:     store,
		lifecycle: lifecycle,
		dialer:    dialerSvc,
		registry:  registry,
		bus:       bus,
		cache:     statsCache,
		audit:     auditSvc,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Write timeout must outlive long-lived SSE streams; the stream
		// handler relies on client disconnect, not server write deadline.
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
}
