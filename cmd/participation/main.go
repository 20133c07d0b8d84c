package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"participation/internal/amqp"
	"participation/internal/cache"
	"participation/internal/cli"
	"participation/internal/core"
	apphttp "participation/internal/http"
	"participation/internal/log"
	"participation/internal/metrics"
	"participation/internal/services"
)

const (
	shutdownTimeout    = 30 * time.Second
	cacheSweepInterval = time.Minute
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(log.New(log.DefaultConfig()))
	logger := cli.SetupLogger(cfg.LogLevel)

	result := cli.MustOpenBackend(context.Background(), logger, cfg)
	logger.Info("Initialized data backend",
		"backend", cfg.DataBackend,
		log.FieldComponent, log.ComponentBackend)

	// Publishing is optional; the editor works without a broker.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client",
				log.FieldError, err,
				log.FieldComponent, log.ComponentAMQP)
			_ = result.Close()
			os.Exit(1)
		}
		publisher = client
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP publishing disabled - no AMQP_URL provided")
	}

	m := metrics.New()
	manager := cache.NewManager(logger)

	var refCache cache.Cache[core.ReferenceData]
	if cfg.ReferenceCacheTTL > 0 {
		lru := cache.NewLRUCache[core.ReferenceData](1, cfg.ReferenceCacheTTL)
		manager.Register(lru)
		refCache = lru
	}
	manager.StartCleanup(cacheSweepInterval)

	svc := services.NewAllocationService(services.Dependencies{
		References:     result.Backend,
		Allocations:    result.Backend,
		Publisher:      publisher,
		Metrics:        m,
		Logger:         logger,
		ReferenceCache: refCache,
		StoreTimeout:   cfg.StoreTimeout,
	})

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Metrics:      m,
		Logger:       logger,
		SessionTTL:   cfg.SessionTTL,
		Ready:        result.Ready,
		CacheManager: manager,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 15 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		// Closes the AMQP publisher too.
		if err := svc.Close(); err != nil {
			logger.Error("Service shutdown error", log.FieldError, err)
		}
		manager.Stop()
		if err := result.Close(); err != nil {
			logger.Error("Backend close error", log.FieldError, err)
		}
	})

	logger.Info("Starting participation server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
