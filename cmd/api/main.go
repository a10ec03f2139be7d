package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/kpi-stream-service/internal/analytics"
	"github.com/PratikDhanave/kpi-stream-service/internal/cache"
	"github.com/PratikDhanave/kpi-stream-service/internal/config"
	"github.com/PratikDhanave/kpi-stream-service/internal/enrich"
	"github.com/PratikDhanave/kpi-stream-service/internal/generator"
	"github.com/PratikDhanave/kpi-stream-service/internal/geoip"
	"github.com/PratikDhanave/kpi-stream-service/internal/httpserver"
	"github.com/PratikDhanave/kpi-stream-service/internal/ingest"
	"github.com/PratikDhanave/kpi-stream-service/internal/logging"
	"github.com/PratikDhanave/kpi-stream-service/internal/metrics"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// main boots the service: config → logger → DB → ingestion → HTTP server.
func main() {
	// A .env file is optional; real environment variables take precedence.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.MetricsNamespace)

	// Migrations run inside Open so a fresh volume is enough to start.
	st, err := store.Open(ctx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	opts := []analytics.Option{analytics.WithMetrics(m)}

	// invalidate is a no-op unless the redis cache is configured.
	invalidate := func(context.Context) {}
	if cfg.UseRedisCache() {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func(c *redis.Client) { _ = c.Close() }(client)

		kc := cache.New(client, "", cfg.CacheTTL, log)
		opts = append(opts, analytics.WithCache(kc))
		invalidate = func(ctx context.Context) {
			if err := kc.Invalidate(ctx); err != nil {
				log.Warn("cache invalidation failed", zap.Error(err))
			}
		}
		log.Info("kpi cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}

	svc := analytics.New(st, log, opts...)

	seed := cfg.Ingest.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	loop := ingest.New(st, generator.NewSeeded(seed), ingest.Sizes{
		Visits: cfg.Ingest.Visits,
		Sales:  cfg.Ingest.Sales,
		Leads:  cfg.Ingest.Leads,
	}, cfg.Ingest.Interval, log, m)
	loop.OnCommit(func(ctx context.Context, _ models.Kind, _ []int64) { invalidate(ctx) })

	if cfg.Ingest.Enabled {
		if err := loop.Start(ctx); err != nil {
			return err
		}
		defer loop.Stop()
	} else {
		log.Info("ingestion disabled")
	}

	if cfg.GeoIPEnabled() {
		geo, err := geoip.Open(cfg.GeoIPDBPath)
		if err != nil {
			return err
		}
		defer geo.Close()

		enricher := enrich.New(st, geo, log, m, enrich.DefaultBatch)
		enricher.OnUpdate(invalidate)
		if err := enricher.Start(ctx, cfg.EnrichSchedule); err != nil {
			return err
		}
		// Deferred calls run in reverse: the enricher stops before geo closes.
		defer enricher.Stop()
	}

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Analytics: svc,
		Store:     st,
		Metrics:   m.Handler(),
		Log:       log,
		OnCommit:  invalidate,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
