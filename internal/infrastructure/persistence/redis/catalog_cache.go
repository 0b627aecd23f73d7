package redis

import (
	"context"
	"errors"
	"time"

	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/pkg/circuitbreaker"
	"github.com/linguaquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG CACHE
// ══════════════════════════════════════════════════════════════════════════════

// CatalogCache implements reward.CatalogCache on Redis. Every call runs
// through a circuit breaker; while it is open calls fail fast and the
// caller falls back to the catalog source.
type CatalogCache struct {
	cache   *Cache
	key     string
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

var _ reward.CatalogCache = (*CatalogCache)(nil)

// NewCatalogCache creates a catalog cache stored under CatalogKey(name).
func NewCatalogCache(cache *Cache, name string, log *logger.Logger) *CatalogCache {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("catalog_cache"))

	return &CatalogCache{
		cache: cache,
		key:   CatalogKey(name),
		breaker: circuitbreaker.CacheBreaker("redis-catalog", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		log: log,
	}
}

// Get implements reward.CatalogCache. A miss returns
// reward.ErrCatalogCacheMiss and does not count as a breaker failure.
func (c *CatalogCache) Get(ctx context.Context) (*reward.Catalog, error) {
	var cat reward.Catalog
	miss := false

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.cache.Get(ctx, c.key, &cat)
		if errors.Is(err, ErrCacheMiss) {
			miss = true
			return nil
		}
		return err
	})
	if err != nil {
		c.log.Debug("catalog cache read failed", logger.Err(err))
		return nil, err
	}
	if miss {
		return nil, reward.ErrCatalogCacheMiss
	}
	return &cat, nil
}

// Set implements reward.CatalogCache.
func (c *CatalogCache) Set(ctx context.Context, cat *reward.Catalog, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, c.key, cat, ttl)
	})
	if err != nil {
		c.log.Debug("catalog cache write failed", logger.Err(err))
	}
	return err
}

// Delete implements reward.CatalogCache.
func (c *CatalogCache) Delete(ctx context.Context) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Delete(ctx, c.key)
	})
}

// BreakerState reports the circuit state for health checks.
func (c *CatalogCache) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}
