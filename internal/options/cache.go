package options

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/erni27/imcache"
	"golang.org/x/sync/singleflight"

	"github.com/matthewbaird/pgform/internal/schema"
)

// DefaultTTL matches how long the browser kept node data around.
const DefaultTTL = 5 * time.Minute

// Cache is a Loader keeping successful fetches for a TTL. Failures are not
// cached. Concurrent loads of the same key share one fetch.
type Cache struct {
	provider Provider
	ttl      time.Duration
	entries  *imcache.Cache[string, []schema.Option]
	group    singleflight.Group
	fetches  atomic.Int64
}

// NewCache wraps provider. A zero ttl uses DefaultTTL.
func NewCache(provider Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		entries:  imcache.New[string, []schema.Option](),
	}
}

// Load implements Loader.
func (c *Cache) Load(ctx context.Context, req Request) ([]schema.Option, error) {
	key := req.CacheKey()
	if opts, ok := c.entries.Get(key); ok {
		return Clone(opts), nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if opts, ok := c.entries.Get(key); ok {
			return opts, nil
		}
		c.fetches.Add(1)
		opts, err := c.provider.Fetch(ctx, req.URL, req.ScopeParams())
		if err != nil {
			return nil, err
		}
		c.entries.Set(key, opts, imcache.WithExpiration(c.ttl))
		return opts, nil
	})
	if err != nil {
		return nil, err
	}
	return Clone(v.([]schema.Option)), nil
}

// Fetches returns how many times the provider was called.
func (c *Cache) Fetches() int64 { return c.fetches.Load() }

// Invalidate drops one cached list.
func (c *Cache) Invalidate(req Request) {
	c.entries.Remove(req.CacheKey())
}

// Purge drops every cached list.
func (c *Cache) Purge() {
	c.entries.RemoveAll()
}
