package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"mentalia/internal/premiumtoken"
	"mentalia/internal/util"
	"mentalia/pkg/queue"
	"mentalia/services/checkout/internal/app"
	"mentalia/services/checkout/internal/config"
	"mentalia/services/checkout/internal/security"
	"mentalia/services/checkout/internal/server"
	"mentalia/services/checkout/internal/stripeclient"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cacheTTL, err := config.ParseDuration("premiumCacheTTL", cfg.PremiumCacheTTL)
	if err != nil {
		log.Fatalf("failed to parse premium cache TTL: %v", err)
	}
	tokenTTL, _ := config.ParseDuration("premiumTokenTTL", cfg.PremiumTokenTTL)
	dedupeTTL, _ := config.ParseDuration("eventDedupeTTL", cfg.EventDedupeTTL)

	logger, closeLog := util.InitLogger(cfg.LogLevel, "checkout", cfg.LogsDir)
	if closeLog != nil {
		defer closeLog()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	provider, err := stripeclient.New(stripeclient.Config{SecretKey: cfg.StripeSecretKey})
	if err != nil {
		util.Fatal("failed to init stripe client", "err", err)
	}
	verifier, err := stripeclient.NewWebhookVerifier(cfg.StripeWebhookSecret)
	if err != nil {
		util.Fatal("failed to init webhook verifier", "err", err)
	}
	events, err := queue.NewRedisEventStream(redisClient, queue.StreamConfig{
		Stream:    cfg.EventStream,
		MaxLen:    cfg.EventStreamMax,
		DedupeTTL: dedupeTTL,
	})
	if err != nil {
		util.Fatal("failed to init event stream", "err", err)
	}
	var signer *premiumtoken.Signer
	if cfg.PremiumPrivateKeyPath != "" {
		signer, err = premiumtoken.NewSigner(premiumtoken.SignerOptions{
			PrivateKeyPath: cfg.PremiumPrivateKeyPath,
			KeyID:          cfg.PremiumKeyID,
			Issuer:         cfg.PremiumIssuer,
			TTL:            tokenTTL,
		})
		if err != nil {
			util.Fatal("failed to init premium token signer", "err", err)
		}
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}

	appCore, err := app.New(app.Config{
		Provider: provider,
		AppURL:   cfg.AppURL,
		Locale:   cfg.Locale,
		Redis:    redisClient,
		CacheTTL: cacheTTL,
		Signer:   signer,
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Webhooks:                   verifier,
		Redis:                      redisClient,
		Alerter:                    security.NewAuditAlerter(redisClient, "mentalia:checkout:alerts"),
		AllowedOrigins:             cfg.AllowedOrigins,
		TrustedProxies:             trusted,
		CheckoutRateLimitPerMinute: cfg.CheckoutRateLimitPerMinute,
		PortalRateLimitPerMinute:   cfg.PortalRateLimitPerMinute,
		PremiumRateLimitPerMinute:  cfg.PremiumRateLimitPerMinute,
		WebhookRateLimitPerMinute:  cfg.WebhookRateLimitPerMinute,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("checkout server listening", "addr", addr, "premium_tokens", signer != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
