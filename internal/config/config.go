package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains runtime configuration required by the service.
type Config struct {
	// DBURL is a postgres:// URL or a SQLite file path.
	DBURL      string `env:"DB_URL" envDefault:"./data/events.db"`
	DBMaxConns int    `env:"DB_MAX_CONNS" envDefault:"8"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// APIKeys guards every KPI route when non-empty.
	APIKeys        []string `env:"API_KEYS" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"100"`

	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"json"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"kpi"`

	Ingest IngestConfig

	GeoIPDBPath    string `env:"GEOIP_DB_PATH"`
	EnrichSchedule string `env:"ENRICH_SCHEDULE" envDefault:"@every 1m"`

	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	SeedRows int `env:"SEED_ROWS" envDefault:"100"`
	SeedDays int `env:"SEED_DAYS" envDefault:"30"`
}

// IngestConfig controls the background producer.
type IngestConfig struct {
	Enabled  bool          `env:"INGEST_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"INGEST_INTERVAL" envDefault:"10s"`
	Visits   int           `env:"INGEST_VISITS" envDefault:"3"`
	Sales    int           `env:"INGEST_SALES" envDefault:"3"`
	Leads    int           `env:"INGEST_LEADS" envDefault:"2"`
	Seed     int64         `env:"INGEST_SEED"`
}

// GeoIPEnabled returns true if a GeoIP database is configured.
func (c Config) GeoIPEnabled() bool {
	return c.GeoIPDBPath != ""
}

// UseRedisCache returns true if KPI results should be cached in Redis.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.DBURL == "" {
		return errors.New("DB_URL required")
	}
	if c.Ingest.Interval < time.Second {
		return errors.New("INGEST_INTERVAL must be at least 1s")
	}
	if c.Ingest.Visits < 0 || c.Ingest.Sales < 0 || c.Ingest.Leads < 0 {
		return errors.New("INGEST_VISITS, INGEST_SALES and INGEST_LEADS must not be negative")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.SeedRows < 0 || c.SeedDays < 1 {
		return errors.New("SEED_ROWS must not be negative and SEED_DAYS must be at least 1")
	}
	return nil
}
