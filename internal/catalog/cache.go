package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	cacheAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_snapshot_age_seconds",
		Help: "Age of the current catalog snapshot",
	})

	cacheLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_snapshot_load_duration_seconds",
		Help:    "Time taken to load a catalog snapshot",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	cacheLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_snapshot_load_errors_total",
		Help: "Total number of catalog snapshot load failures",
	})
)

// Loader produces catalog snapshots. Implemented by Store for Postgres
// and by test fakes.
type Loader interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
}

// Cache holds the current catalog snapshot and refreshes it when it
// grows stale. Snapshots are swapped atomically; readers always see a
// complete, validated catalog. Concurrent refreshes collapse into one
// load via singleflight.
type Cache struct {
	loader   Loader
	ttl      time.Duration
	snapshot atomic.Pointer[Snapshot]
	loadedAt atomic.Pointer[time.Time]
	sf       singleflight.Group
	logger   zerolog.Logger

	stopChan chan struct{}
}

// NewCache creates a snapshot cache over the given loader.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader:   loader,
		ttl:      ttl,
		logger:   log.With().Str("component", "catalog_cache").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Warmup loads the initial snapshot. The server refuses to price
// without promotion data, so warmup failure is fatal to startup.
func (c *Cache) Warmup(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("catalog warmup failed: %w", err)
	}
	return nil
}

// Snapshot returns the current snapshot, refreshing first if the cache
// is stale or empty. Returns an error when no snapshot can be served;
// pricing must not proceed with partial data.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := c.snapshot.Load()
	if snap != nil && !c.stale() {
		return snap, nil
	}

	if err := c.Refresh(ctx); err != nil {
		// A stale snapshot is better than none only if we still have
		// one within twice the TTL; beyond that, fail the request.
		if snap != nil && c.age() < 2*c.ttl {
			c.logger.Warn().Err(err).Msg("Serving stale catalog snapshot after refresh failure")
			return snap, nil
		}
		return nil, err
	}
	return c.snapshot.Load(), nil
}

// Refresh loads a fresh snapshot. Concurrent callers share one load.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.sf.Do("catalog", func() (interface{}, error) {
		start := time.Now()
		snap, err := c.loader.LoadSnapshot(ctx)
		cacheLoadDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			cacheLoadErrors.Inc()
			return nil, fmt.Errorf("failed to load catalog snapshot: %w", err)
		}

		now := time.Now()
		c.snapshot.Store(snap)
		c.loadedAt.Store(&now)
		cacheAge.Set(0)

		c.logger.Info().
			Int("promotions", snap.Len()).
			Dur("load_time", time.Since(start)).
			Msg("Catalog snapshot refreshed")
		return snap, nil
	})
	return err
}

// StartRefresher periodically refreshes the snapshot until Stop is
// called or the context is cancelled.
func (c *Cache) StartRefresher(ctx context.Context, interval time.Duration) {
	c.logger.Info().Dur("interval", interval).Msg("Starting catalog refresher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Catalog refresher stopping (context cancelled)")
			return
		case <-c.stopChan:
			c.logger.Info().Msg("Catalog refresher stopping (stop signal)")
			return
		case <-ticker.C:
			cacheAge.Set(c.age().Seconds())
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Scheduled catalog refresh failed")
			}
		}
	}
}

// Stop signals the refresher to stop.
func (c *Cache) Stop() {
	close(c.stopChan)
}

func (c *Cache) stale() bool {
	return c.age() > c.ttl
}

func (c *Cache) age() time.Duration {
	loaded := c.loadedAt.Load()
	if loaded == nil {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(*loaded)
}
