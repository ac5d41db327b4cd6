// Package app assembles the aggregate store and ratings service from
// configuration for the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Clark-Hu/fanrank/internal/config"
	"github.com/Clark-Hu/fanrank/internal/domain"
	"github.com/Clark-Hu/fanrank/internal/logger"
	"github.com/Clark-Hu/fanrank/internal/memstore"
	"github.com/Clark-Hu/fanrank/internal/metrics"
	"github.com/Clark-Hu/fanrank/internal/ratings"
	"github.com/Clark-Hu/fanrank/internal/repository"
	"github.com/Clark-Hu/fanrank/internal/store"
)

// Components holds everything a binary needs. Close releases the store.
type Components struct {
	Store   domain.AggregateStore
	DB      *store.Store
	Service *ratings.Service
	Metrics *metrics.Metrics
}

// Build opens the configured store and wires the ratings service on top.
func Build(ctx context.Context, cfg config.Config, log *logger.Logger, reg prometheus.Registerer) (*Components, error) {
	c := &Components{}
	if reg != nil {
		c.Metrics = metrics.New(reg)
	}

	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store, data is lost on exit")
		c.Store = memstore.New()
	default:
		dbCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DBConnTimeoutSecs)*time.Second+time.Second)
		defer cancel()
		st, err := store.New(dbCtx, cfg.DBURL, store.Options{
			MaxConns:               int32(cfg.DBMaxConns),
			MinConns:               int32(cfg.DBMinConns),
			MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
			MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
			ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
			StatementCacheCapacity: cfg.DBStatementCache,
			Logger:                 log,
		})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		c.DB = st
		c.Store = repository.New(st)
	}

	c.Service = ratings.New(c.Store, ratings.Options{
		Retry: ratings.RetryPolicy{
			MaxAttempts: cfg.TxMaxAttempts,
			BaseDelay:   cfg.TxBackoffBase(),
			MaxDelay:    cfg.TxBackoffMax(),
		},
		Logger:  log,
		Metrics: c.Metrics,
	})
	return c, nil
}

// Close releases the database pool, if any.
func (c *Components) Close() {
	if c.DB != nil {
		c.DB.LogStats()
		c.DB.Close()
	}
}
