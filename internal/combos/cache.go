package combos

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Loader produces combo catalogs. Implemented by Store for Postgres and
// by test fakes.
type Loader interface {
	LoadCatalog(ctx context.Context) (*Catalog, error)
}

// Cache holds the current combo catalog, swapped atomically on refresh.
// Unlike the promotion snapshot, a missing combo catalog is not fatal:
// carts price without combo discounts rather than failing, so Catalog
// never returns an error once warmup has succeeded.
type Cache struct {
	loader   Loader
	ttl      time.Duration
	catalog  atomic.Pointer[Catalog]
	loadedAt atomic.Pointer[time.Time]
	sf       singleflight.Group
	logger   zerolog.Logger

	stopChan chan struct{}
}

// NewCache creates a combo catalog cache over the given loader.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{
		loader:   loader,
		ttl:      ttl,
		logger:   log.With().Str("component", "combo_cache").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Warmup loads the initial catalog.
func (c *Cache) Warmup(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("combo catalog warmup failed: %w", err)
	}
	return nil
}

// Catalog returns the current combo catalog, refreshing first when
// stale. On refresh failure the previous catalog keeps serving.
func (c *Cache) Catalog(ctx context.Context) *Catalog {
	cat := c.catalog.Load()
	if cat != nil && !c.stale() {
		return cat
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Serving previous combo catalog after refresh failure")
		return cat
	}
	return c.catalog.Load()
}

// Refresh loads a fresh catalog. Concurrent callers share one load.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.sf.Do("combos", func() (interface{}, error) {
		start := time.Now()
		cat, err := c.loader.LoadCatalog(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load combo catalog: %w", err)
		}

		now := time.Now()
		c.catalog.Store(cat)
		c.loadedAt.Store(&now)

		c.logger.Info().
			Int("combos", cat.Len()).
			Dur("load_time", time.Since(start)).
			Msg("Combo catalog refreshed")
		return cat, nil
	})
	return err
}

// StartRefresher periodically refreshes the catalog until Stop is
// called or the context is cancelled.
func (c *Cache) StartRefresher(ctx context.Context, interval time.Duration) {
	c.logger.Info().Dur("interval", interval).Msg("Starting combo catalog refresher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Scheduled combo catalog refresh failed")
			}
		}
	}
}

// Stop signals the refresher to stop.
func (c *Cache) Stop() {
	close(c.stopChan)
}

func (c *Cache) stale() bool {
	loaded := c.loadedAt.Load()
	if loaded == nil {
		return true
	}
	return time.Since(*loaded) > c.ttl
}
