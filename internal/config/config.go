package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string `env:"PORT" envDefault:"8080"`
	AuthToken        string `env:"AUTH_TOKEN"`
	Store            string `env:"STORE" envDefault:"postgres"`
	DBURL            string `env:"DB_URL"`
	LogMode          string `env:"LOG_MODE" envDefault:"development"`
	ReadTimeoutSecs  int    `env:"SERVER_READ_TIMEOUT" envDefault:"15"`
	WriteTimeoutSecs int    `env:"SERVER_WRITE_TIMEOUT" envDefault:"15"`
	IdleTimeoutSecs  int    `env:"SERVER_IDLE_TIMEOUT" envDefault:"60"`

	DBMaxConns        int `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns        int `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxIdleSecs     int `env:"DB_MAX_CONN_IDLE_SECS" envDefault:"300"`
	DBMaxLifeSecs     int `env:"DB_MAX_CONN_LIFETIME_SECS" envDefault:"3600"`
	DBConnTimeoutSecs int `env:"DB_CONN_TIMEOUT_SECS" envDefault:"10"`
	DBStatementCache  int `env:"DB_STATEMENT_CACHE_CAPACITY" envDefault:"256"`

	TxMaxAttempts        int `env:"TX_MAX_ATTEMPTS" envDefault:"10"`
	TxBackoffBaseMS      int `env:"TX_BACKOFF_BASE_MS" envDefault:"2"`
	TxBackoffMaxMS       int `env:"TX_BACKOFF_MAX_MS" envDefault:"100"`
	ReconcileConcurrency int `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
}

// Load reads the server configuration; AUTH_TOKEN is mandatory.
func Load() (Config, error) {
	return load(true)
}

// LoadTool reads configuration for operator tooling, which does not serve
// HTTP and so needs no AUTH_TOKEN.
func LoadTool() (Config, error) {
	return load(false)
}

func load(requireAuth bool) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if requireAuth && cfg.AuthToken == "" {
		return Config{}, fmt.Errorf("AUTH_TOKEN is required")
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("DB_URL is required")
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if cfg.TxMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("TX_MAX_ATTEMPTS must be positive")
	}
	if cfg.TxBackoffBaseMS < 0 || cfg.TxBackoffMaxMS < cfg.TxBackoffBaseMS {
		return Config{}, fmt.Errorf("TX_BACKOFF_BASE_MS must be non-negative and not exceed TX_BACKOFF_MAX_MS")
	}
	if cfg.ReconcileConcurrency <= 0 {
		return Config{}, fmt.Errorf("RECONCILE_CONCURRENCY must be positive")
	}

	return cfg, nil
}

func (c Config) TxBackoffBase() time.Duration {
	return time.Duration(c.TxBackoffBaseMS) * time.Millisecond
}

func (c Config) TxBackoffMax() time.Duration {
	return time.Duration(c.TxBackoffMaxMS) * time.Millisecond
}
