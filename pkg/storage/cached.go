package storage

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mustardtree/portal/pkg/observability"
)

// CachedKV is a read-through LRU in front of another KV
type CachedKV struct {
	inner   KV
	cache   *lru.LRU[string, Entry]
	metrics *observability.Metrics
}

// NewCachedKV caches up to size entries for ttl. metrics may be nil.
func NewCachedKV(inner KV, size int, ttl time.Duration, metrics *observability.Metrics) *CachedKV {
	return &CachedKV{
		inner:   inner,
		cache:   lru.NewLRU[string, Entry](size, nil, ttl),
		metrics: metrics,
	}
}

func (c *CachedKV) Get(ctx context.Context, key string) (Entry, error) {
	if e, ok := c.cache.Get(key); ok {
		c.count(true)
		return Entry{Value: append([]byte(nil), e.Value...), Version: e.Version}, nil
	}
	c.count(false)

	e, err := c.inner.Get(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	c.cache.Add(key, Entry{Value: append([]byte(nil), e.Value...), Version: e.Version})
	return e, nil
}

func (c *CachedKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	version, err := c.inner.Put(ctx, key, value, expected)
	if err != nil {
		// On ErrConflict our cached copy is stale; on other errors we no
		// longer know what the backend holds.
		c.cache.Remove(key)
		return 0, err
	}
	c.cache.Add(key, Entry{Value: append([]byte(nil), value...), Version: version})
	return version, nil
}

func (c *CachedKV) Delete(ctx context.Context, key string) error {
	c.cache.Remove(key)
	return c.inner.Delete(ctx, key)
}

func (c *CachedKV) HealthCheck(ctx context.Context) error {
	return c.inner.HealthCheck(ctx)
}

func (c *CachedKV) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

func (c *CachedKV) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues("kv").Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues("kv").Inc()
	}
}
