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

	"inbox-platform/internal/auth"
	"inbox-platform/internal/autoreply"
	"inbox-platform/internal/channel"
	"inbox-platform/internal/config"
	"inbox-platform/internal/inbox"
	"inbox-platform/internal/ingest"
	"inbox-platform/internal/send"
	"inbox-platform/internal/syncevent"
	"inbox-platform/pkg/logger"
	"inbox-platform/pkg/utils"

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

	log := logger.New(cfg.App.Env, cfg.App.Name)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
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

	// Stores
	store := inbox.NewPostgresStore(db)
	rules := autoreply.NewPostgresStore(db)
	events := syncevent.NewPostgresStore(db)
	agents := auth.NewPostgresAgentStore(db)

	// Outbound adapters
	whatsapp, err := channel.NewWhatsAppAdapter(channel.WhatsAppConfig{
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
	})
	if err != nil {
		log.Error("whatsapp adapter init failed", "err", err)
		os.Exit(1)
	}
	adapters := channel.Registry{
		inbox.ChannelWhatsApp: whatsapp,
		inbox.ChannelEmail:    channel.NewEmailAdapter(),
	}

	// Services
	resolver := inbox.NewResolver(store)
	engine := autoreply.NewEngine(rules, store, log)
	recorder := syncevent.NewRecorder(events)
	pipeline := ingest.NewPipeline(resolver, store, engine, recorder, ingest.NewRedisDeduper(rdb), log)
	sender := send.NewService(store, adapters, recorder, log)
	login := auth.NewLoginService(agents, authManager)

	recovery := syncevent.NewRecovery(events, log)
	recovery.Register(inbox.ChannelWhatsApp, syncevent.EventTypeMessageReceive, pipeline.ReplayMessageReceive)
	recovery.Register(inbox.ChannelEmail, syncevent.EventTypeMessageReceive, pipeline.ReplayMessageReceive)
	recovery.Register(inbox.ChannelWhatsApp, syncevent.EventTypeMessageSend, sender.ReplayMessageSend)
	recovery.Register(inbox.ChannelEmail, syncevent.EventTypeMessageSend, sender.ReplayMessageSend)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW:   auth.RequireAccessToken(authManager),
		webhooks: ingest.WebhookHandler{Pipeline: pipeline, Recorder: recorder, WhatsAppVerifyToken: cfg.WhatsApp.WebhookSecret, EmailAPIKey: cfg.Email.WebhookAPIKey},
		cron:     syncevent.CronHandler{Recovery: recovery, APIKey: cfg.Cron.APIKey},
		login:    auth.Handler{Login: login},
		send:     send.Handler{Service: sender},
		rules:    autoreply.Handler{Service: autoreply.NewService(rules)},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
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
