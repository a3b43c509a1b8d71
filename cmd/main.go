package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/kimg-panel/internal/api"
	"github.com/baechuer/kimg-panel/internal/config"
	"github.com/baechuer/kimg-panel/internal/downstream"
	"github.com/baechuer/kimg-panel/internal/logger"
	"github.com/baechuer/kimg-panel/internal/messaging"
	"github.com/baechuer/kimg-panel/internal/preview"
	"github.com/baechuer/kimg-panel/internal/tracing"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}

	// 1.5 Init Logger
	logger.Init()
	log := logger.Log
	log.Info().Str("addr", cfg.HTTPAddr).Str("kimg", cfg.KimgURL).Msg("starting kimg-panel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Tracing
	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "kimg-panel",
		ServiceVersion: "dev",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRatio:    cfg.TracingSampleRatio,
	})
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	// 3. Redis for shared rate limits (optional)
	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, rate limiter fails open until it returns")
		}
		defer client.Close()
		rdb = client
	}

	// 4. RabbitMQ notification fan-out (optional)
	var notifier preview.Notifier
	if cfg.RabbitURL != "" {
		publisher, err := messaging.NewPublisher(ctx, cfg.RabbitURL, cfg.RabbitExchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create RabbitMQ publisher")
		}
		defer publisher.Close()
		notifier = publisher
	}

	// 5. kimg client and preview sessions
	clientCfg := downstream.DefaultClientConfig()
	clientCfg.ReadTimeout = cfg.KimgReadTimeout
	clientCfg.WriteTimeout = cfg.KimgWriteTimeout
	kimg := downstream.NewKimgClient(cfg.KimgURL, downstream.NewClient(clientCfg))

	registry := preview.NewRegistry(kimg, notifier, preview.RegistryConfig{
		IdleTTL:           cfg.SessionIdleTTL,
		NotificationLimit: cfg.NotificationLimit,
		MaxSessions:       cfg.MaxSessions,
	}, log)
	go registry.Run(ctx)

	// 6. Setup Router
	r := api.NewRouter(api.Deps{
		Config:   cfg,
		Registry: registry,
		Kimg:     kimg,
		Redis:    rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("kimg-panel started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down kimg-panel")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown")
		}
	}
}
