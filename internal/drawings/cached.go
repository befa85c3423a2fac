package drawings

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/chartbus/internal/log"
)

const (
	DefaultCacheExpiration = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// cacheEntry distinguishes a cached miss from no cache entry at all.
type cacheEntry struct {
	body  json.RawMessage
	found bool
}

// Cached is a read-through, write-through cache in front of another Store.
// Switching symbols back and forth reloads the same drawings repeatedly; the
// cache keeps those loads off the database.
type Cached struct {
	next  Store
	cache *gocache.Cache
	ttl   time.Duration
}

// NewCached wraps next. ttl <= 0 uses DefaultCacheExpiration.
func NewCached(next Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheExpiration
	}
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, DefaultCleanupInterval),
		ttl:   ttl,
	}
}

func (c *Cached) Save(ctx context.Context, tag string, drawings json.RawMessage) error {
	if err := c.next.Save(ctx, tag, drawings); err != nil {
		return err
	}
	c.cache.Set(tag, cacheEntry{body: append(json.RawMessage(nil), drawings...), found: true}, c.ttl)
	return nil
}

func (c *Cached) Load(ctx context.Context, tag string) (json.RawMessage, bool, error) {
	if v, found := c.cache.Get(tag); found {
		entry, ok := v.(cacheEntry)
		if ok {
			log.Debug(log.CatCache, "cache hit", "tag", tag)
			return entry.body, entry.found, nil
		}
		log.Error(log.CatCache, "wrong type assertion when getting value", "tag", tag)
	}

	body, found, err := c.next.Load(ctx, tag)
	if err != nil {
		return nil, false, err
	}
	c.cache.Set(tag, cacheEntry{body: body, found: found}, c.ttl)
	return body, found, nil
}

func (c *Cached) Delete(ctx context.Context, tag string) error {
	c.cache.Delete(tag)
	return c.next.Delete(ctx, tag)
}

func (c *Cached) Tags(ctx context.Context) ([]string, error) {
	return c.next.Tags(ctx)
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.cache.Flush()
}

func (c *Cached) Close() error {
	c.cache.Flush()
	return c.next.Close()
}
