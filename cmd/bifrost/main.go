// Package main initializes and runs the Bifrost evaluation service.
//
// It acts as the composition root: configuration, logging, the Postgres
// config store, the Redis cache tier, the evaluation engine, the exposure
// dispatcher, the edge HTTP API, and the observability server are all wired
// here and torn down in reverse order on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bifrost-flags/bifrost/internal/cache"
	"github.com/bifrost-flags/bifrost/internal/config"
	"github.com/bifrost-flags/bifrost/internal/configstore"
	"github.com/bifrost-flags/bifrost/internal/database"
	"github.com/bifrost-flags/bifrost/internal/edgeapi"
	"github.com/bifrost-flags/bifrost/internal/engine"
	"github.com/bifrost-flags/bifrost/internal/events"
	"github.com/bifrost-flags/bifrost/internal/logger"
	"github.com/bifrost-flags/bifrost/internal/observability"
	"github.com/bifrost-flags/bifrost/internal/rules"
)

const shutdownTimeout = 15 * time.Second

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	slogger := logger.New(&cfg.App)
	slog.SetDefault(slogger)
	cfg.LogConfig(slogger)

	ctx := context.Background()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------

	// Postgres: the authoritative (L3) source of flag configurations.
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	// Redis: shared L2 cache, invalidation transport, exposure stream.
	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slogger.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}()

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------

	l1, err := cache.NewL1(cfg.Cache.L1MaxEntries, cfg.Cache.L1TTL, func(string) {
		observability.CacheEvictions.Inc()
	})
	if err != nil {
		return fmt.Errorf("failed to create l1 cache: %w", err)
	}
	l2 := cache.NewL2(redisClient, cfg.Cache.KeyPrefix, cfg.Cache.L2TTL, cfg.Redis.InvalidationChannel)
	store := configstore.NewPostgresStore(pool)
	hierarchy := cache.NewHierarchy(l1, l2, store, slogger)

	dispatcher := events.NewDispatcher(cfg.Events.QueueSize, newExposureSink(cfg, redisClient, slogger), slogger)

	eng, err := engine.New(hierarchy, dispatcher, slogger, engine.Options{
		Compile: rules.CompileOptions{
			MaxDepth:        cfg.Engine.MaxRuleDepth,
			PredicateBudget: cfg.Engine.PredicateBudget,
		},
		CompiledMaxEntries:     cfg.Cache.CompiledMaxEntries,
		HoldoutBps:             cfg.Engine.HoldoutBps,
		DefaultTimeout:         cfg.Server.DefaultTimeout,
		DegradedDefaultVariant: cfg.Engine.DegradedDefaultVariant,
	})
	if err != nil {
		return fmt.Errorf("failed to create evaluation engine: %w", err)
	}

	api := edgeapi.NewAPI(eng, &cfg.Server, &cfg.Engine)

	// -------------------------------------------------------------------------
	// 4. Background Workers
	// -------------------------------------------------------------------------

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	workerErrs := make(chan error, 2)

	listener := cache.NewListener(redisClient, cfg.Redis.InvalidationChannel, hierarchy, slogger)
	go func() {
		if err := listener.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			workerErrs <- fmt.Errorf("invalidation listener stopped: %w", err)
		}
	}()

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			workerErrs <- fmt.Errorf("exposure dispatcher stopped: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Servers
	// -------------------------------------------------------------------------

	obsServer := observability.NewServer(slogger, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obsServer.Start()

	httpServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	serverErrs := make(chan error, 1)
	go func() {
		slogger.Info("evaluation server listening",
			slog.String("addr", httpServer.Addr),
			slog.Bool("tls", cfg.Server.TLSEnabled),
		)
		var err error
		if cfg.Server.TLSEnabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- fmt.Errorf("evaluation server failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 6. Graceful Shutdown
	// -------------------------------------------------------------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrs:
		return err
	case err := <-workerErrs:
		return err
	case sig := <-sigChan:
		slogger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Stop accepting traffic first, then the workers. The dispatcher flushes
	// its remaining exposures before exiting.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("evaluation server shutdown failed", slog.String("error", err.Error()))
	}
	stopWorkers()

	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		slogger.Warn("exposure dispatcher did not flush in time")
	}

	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	slogger.Info("service exited successfully")
	return nil
}

// newExposureSink selects the exposure destination from configuration.
func newExposureSink(cfg *config.Config, client *goredis.Client, slogger *slog.Logger) events.Sink {
	if cfg.Events.Sink == "redis" {
		return events.NewRedisStreamSink(client, cfg.Events.Stream, cfg.Events.StreamMaxLen)
	}
	return events.NewLogSink(slogger)
}
