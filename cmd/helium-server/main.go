package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/analytics"
	"github.com/heliumhq/helium-go/internal/config"
	"github.com/heliumhq/helium-go/internal/database"
	"github.com/heliumhq/helium-go/internal/fetcher"
	"github.com/heliumhq/helium-go/internal/helium"
	"github.com/heliumhq/helium-go/internal/httpserver"
	"github.com/heliumhq/helium-go/internal/identity"
	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/middleware"
	"github.com/heliumhq/helium-go/internal/models"
	"github.com/heliumhq/helium-go/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting helium server",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("helium")
	}

	// Redis backs the config mirror and the entitlement cache. Optional:
	// without it both degrade to in-process state.
	var redisDB *database.RedisDB
	if db, err := database.NewRedisDB(ctx, cfg.Redis, logger); err != nil {
		logger.Warn("Redis unavailable, running without config mirror", zap.Error(err))
	} else {
		redisDB = db
		defer redisDB.Close()
	}

	rtOpts := helium.RuntimeOptions{
		DefaultLoadingBudgetSeconds: cfg.Paywall.DefaultLoadingBudgetSeconds,
		EntitlementTTL:              cfg.Paywall.EntitlementTTL,
		Logger:                      logger,
		Metrics:                     m,
	}
	if redisDB != nil {
		rtOpts.Redis = redisDB.Client
	}
	rt := helium.NewRuntime(rtOpts)
	defer rt.Close()

	// Event persistence. Postgres when reachable, in-memory otherwise.
	var events storage.EventStore
	if pg, err := database.NewPostgresDB(ctx, cfg.Database, logger); err != nil {
		logger.Warn("PostgreSQL unavailable, using in-memory event store", zap.Error(err))
		events = storage.NewInMemoryEventStore()
	} else {
		defer pg.Close()
		events = storage.NewPostgresEventStore(pg.Pool)
	}
	rt.Bus().AddSink(func(ev models.Event) {
		if err := events.SaveEvent(context.Background(), &ev); err != nil {
			if m != nil {
				m.EventStoreErrors.Inc()
			}
			logger.Warn("failed to persist event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	})

	// Analytics pipeline.
	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse unavailable, analytics disabled", zap.Error(err))
		} else {
			defer ch.Close()
			sink := analytics.NewClickHouseSink(ch.Conn, analytics.Options{
				Table:         cfg.ClickHouse.Table,
				BatchSize:     cfg.ClickHouse.BatchSize,
				FlushInterval: cfg.ClickHouse.FlushInterval,
				BufferSize:    cfg.ClickHouse.BufferSize,
			}, logger, m)
			go sink.Run(ctx)
			defer func() {
				cancel()
				<-sink.Done()
			}()
			rt.Bus().AddSink(sink.Record)
		}
	}

	// GeoIP context enrichment.
	var geo identity.GeoProvider
	if cfg.Geo.Enabled {
		provider, err := identity.NewMaxMindGeoProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("GeoIP database unavailable", zap.Error(err))
		} else {
			geo = provider
		}
	}
	ident := identity.NewProvider(geo, cfg.Geo.CacheSize, cfg.Geo.CacheTTL)
	defer ident.Close()

	// Warm restart: a mirrored snapshot serves until the first fetch lands.
	if redisDB != nil && rt.Store().RestoreFromRedis(ctx) {
		logger.Info("restored config snapshot from Redis mirror")
	}

	f := fetcher.NewFetcher(cfg.Fetch, rt.Store(), rt.Bus(), logger, m)
	refresher := fetcher.NewRefresher(f, cfg.Fetch.RefreshInterval, cfg.Fetch.RetryBackoff, logger)
	go refresher.Run(ctx)

	rt.Bus().Fire(models.NewEvent(models.EventInitializeStart), nil)
	rt.MarkInitialized()

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Runtime:  rt,
		Fetcher:  f,
		Events:   events,
		Identity: ident,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
	})

	readTimeout, writeTimeout, idleTimeout := httpserver.Timeouts()
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	// Stop the background refresher and analytics loop before the bus and
	// stores wind down in the deferred teardown.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("helium server stopped")
}
