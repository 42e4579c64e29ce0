package climate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"solar-platform/internal/models"
	"solar-platform/pkg/logging"
)

// Cache stores immutable climate records. Add never replaces an existing
// entry; a revised record must use a new key.
type Cache interface {
	Get(ctx context.Context, key string) (models.ClimateRecord, bool, error)
	Add(ctx context.Context, key string, rec models.ClimateRecord) error
}

// MemoryCache is the per-process tier.
type MemoryCache struct {
	store *gocache.Cache
	obs   Observer
}

// NewMemoryCache creates an in-process cache. ttl <= 0 keeps entries until
// the process exits.
func NewMemoryCache(ttl time.Duration, obs Observer) *MemoryCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &MemoryCache{store: gocache.New(ttl, 10*time.Minute), obs: obs}
}

// Get looks up key
func (c *MemoryCache) Get(_ context.Context, key string) (models.ClimateRecord, bool, error) {
	v, ok := c.store.Get(key)
	if !ok {
		c.obs.CacheMiss("memory")
		return models.ClimateRecord{}, false, nil
	}
	c.obs.CacheHit("memory")
	return v.(models.ClimateRecord), true, nil
}

// Add inserts rec unless key is already present.
func (c *MemoryCache) Add(_ context.Context, key string, rec models.ClimateRecord) error {
	// go-cache's Add fails on an existing key, which is the append-only rule.
	_ = c.store.Add(key, rec, gocache.DefaultExpiration)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.store.ItemCount()
}

// RedisCache is the tier shared between API instances. Records are stored
// as JSON under SETNX.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	obs    Observer
}

// NewRedisCache wraps a go-redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration, obs Observer) *RedisCache {
	if obs == nil {
		obs = nopObserver{}
	}
	return &RedisCache{client: client, ttl: ttl, obs: obs}
}

// Get looks up key
func (c *RedisCache) Get(ctx context.Context, key string) (models.ClimateRecord, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.obs.CacheMiss("redis")
		return models.ClimateRecord{}, false, nil
	}
	if err != nil {
		return models.ClimateRecord{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var rec models.ClimateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.ClimateRecord{}, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	c.obs.CacheHit("redis")
	return rec, true, nil
}

// Add stores rec only if key does not exist.
func (c *RedisCache) Add(ctx context.Context, key string, rec models.ClimateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	if err := c.client.SetNX(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return nil
}

// TieredCache consults tiers in order and back-fills faster tiers on a hit.
type TieredCache struct {
	tiers []Cache
}

// NewTieredCache chains tiers, fastest first. Nil tiers are skipped.
func NewTieredCache(tiers ...Cache) *TieredCache {
	t := &TieredCache{}
	for _, c := range tiers {
		if c != nil {
			t.tiers = append(t.tiers, c)
		}
	}
	return t
}

// Get returns the first hit. A failing tier is skipped; its error is
// returned only when no tier has the key.
func (t *TieredCache) Get(ctx context.Context, key string) (models.ClimateRecord, bool, error) {
	var errs []error
	for i, c := range t.tiers {
		rec, ok, err := c.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		for _, faster := range t.tiers[:i] {
			if addErr := faster.Add(ctx, key, rec); addErr != nil {
				errs = append(errs, addErr)
			}
		}
		return rec, true, nil
	}
	return models.ClimateRecord{}, false, errors.Join(errs...)
}

// Add writes rec to every tier.
func (t *TieredCache) Add(ctx context.Context, key string, rec models.ClimateRecord) error {
	var errs []error
	for _, c := range t.tiers {
		if err := c.Add(ctx, key, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CachedProvider fronts a Provider with a Cache. Concurrent misses on the
// same key share one upstream call.
type CachedProvider struct {
	inner  Provider
	cache  Cache
	group  singleflight.Group
	logger *logging.StructuredLogger
}

// NewCachedProvider wraps inner with cache.
func NewCachedProvider(inner Provider, cache Cache, logger *logging.StructuredLogger) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, logger: logger}
}

// Name returns the wrapped source name
func (p *CachedProvider) Name() string {
	return p.inner.Name()
}

// Fetch serves from cache or fetches and stores the record.
func (p *CachedProvider) Fetch(ctx context.Context, q Query) (models.ClimateRecord, error) {
	key := models.ClimateKey(p.inner.Name(), q.Location, q.Range)

	rec, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn(ctx, "[CLIMATE_CACHE_ERROR] Cache lookup failed, fetching from source", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
	}
	if ok {
		return rec, nil
	}

	if err := ctx.Err(); err != nil {
		return models.ClimateRecord{}, contextFailure(p.inner.Name(), q, err)
	}

	// The shared fetch outlives any single caller; the adapter's own
	// timeout bounds it.
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (interface{}, error) {
		rec, err := p.inner.Fetch(detached, q)
		if err != nil {
			return nil, err
		}
		if addErr := p.cache.Add(detached, key, rec); addErr != nil {
			p.logger.Warn(detached, "[CLIMATE_CACHE_ERROR] Failed to store record", logging.Fields{
				"key":   key,
				"error": addErr.Error(),
			})
		}
		return rec, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return models.ClimateRecord{}, contextFailure(p.inner.Name(), q, ctx.Err())
	}
	if res.Err != nil {
		return models.ClimateRecord{}, res.Err
	}
	v, shared := res.Val, res.Shared

	p.logger.Debug(ctx, "[CLIMATE_CACHE] Record fetched from source", logging.Fields{
		"key":    key,
		"shared": shared,
	})
	return v.(models.ClimateRecord), nil
}
