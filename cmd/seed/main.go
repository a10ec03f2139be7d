// Command seed bootstraps the event store with historical rows and can
// backfill visit countries from a GeoIP database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/PratikDhanave/kpi-stream-service/internal/cache"
	"github.com/PratikDhanave/kpi-stream-service/internal/config"
	"github.com/PratikDhanave/kpi-stream-service/internal/enrich"
	"github.com/PratikDhanave/kpi-stream-service/internal/geoip"
	"github.com/PratikDhanave/kpi-stream-service/internal/logging"
	"github.com/PratikDhanave/kpi-stream-service/internal/seed"
	"github.com/PratikDhanave/kpi-stream-service/internal/store"
)

// samplePairs bounds how many networks are read from the GeoIP database.
const samplePairs = 1000

func main() {
	// A .env file is optional; real environment variables take precedence.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	rows := flag.Int("n", cfg.SeedRows, "rows written per event kind")
	days := flag.Int("days", cfg.SeedDays, "spread timestamps over this many past days")
	reset := flag.Bool("reset", false, "drop and recreate all tables first")
	doEnrich := flag.Bool("enrich", false, "backfill visit countries after seeding")
	rndSeed := flag.Int64("seed", 0, "random seed (0 uses the clock)")
	flag.Parse()

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := seed.Options{Rows: *rows, Days: *days, Reset: *reset}
	if err := run(ctx, cfg, log, opts, *doEnrich, *rndSeed); err != nil {
		log.Error("seed failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, opts seed.Options, doEnrich bool, rndSeed int64) error {
	st, err := store.Open(ctx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var geo *geoip.Lookup
	if cfg.GeoIPEnabled() {
		geo, err = geoip.Open(cfg.GeoIPDBPath)
		if err != nil {
			return err
		}
		defer geo.Close()

		opts.Pairs, err = geo.Sample(samplePairs)
		if err != nil {
			return err
		}
		log.Info("sampled geoip networks", zap.Int("pairs", len(opts.Pairs)))
	} else if doEnrich {
		return errors.New("-enrich requires GEOIP_DB_PATH")
	}

	// A running API caches KPIs in redis; bump the generation after writes.
	invalidate := func(context.Context) {}
	if cfg.UseRedisCache() {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		kc := cache.New(client, "", cfg.CacheTTL, log)
		invalidate = func(ctx context.Context) {
			if err := kc.Invalidate(ctx); err != nil {
				log.Warn("cache invalidation failed", zap.Error(err))
			}
		}
	}

	if rndSeed == 0 {
		rndSeed = time.Now().UnixNano()
	}
	seeder := seed.New(st, rand.New(rand.NewSource(rndSeed)), log)
	seeder.OnWrite(invalidate)
	sum, err := seeder.Run(ctx, opts)
	if err != nil {
		return err
	}
	for kind, n := range sum.Inserted {
		log.Info("seeded", zap.String("kind", string(kind)), zap.Int("rows", n))
	}

	if !doEnrich {
		return nil
	}
	e := enrich.New(st, geo, log, nil, enrich.DefaultBatch)
	e.OnUpdate(invalidate)
	res, err := e.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("enrichment finished", zap.Int("updated", res.Updated), zap.Int("skipped", res.Skipped))
	return nil
}
