package gate

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"harbormaster/internal/kv"
	"harbormaster/pkg/logging"
)

// Cache stores composed-response bodies keyed by the normalized request.
// Writes are best-effort with a fixed TTL; a non-positive TTL disables
// caching entirely.
type Cache struct {
	store   kv.Store
	version string
	ttl     time.Duration
	logger  logging.Logger
}

func NewCache(store kv.Store, version string, ttl time.Duration, logger logging.Logger) *Cache {
	return &Cache{store: store, version: version, ttl: ttl, logger: logger}
}

// Enabled reports whether responses are cached at all.
func (c *Cache) Enabled() bool {
	return c.ttl > 0
}

// Key derives the deterministic cache key for a request. Query parameters are
// sorted by name before joining, so the same logical request maps to the same
// key regardless of parameter order.
func (c *Cache) Key(path string, query url.Values, format Format) string {
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		for _, value := range query[name] {
			pairs = append(pairs, name+"="+value)
		}
	}

	return fmt.Sprintf("cache:%s:%s:%s:%s", c.version, path, strings.Join(pairs, "&"), format)
}

// Get reports a hit with the stored body. Store errors degrade to a miss;
// the cache never blocks a request.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"key":   key,
			"error": err.Error(),
		}).Warn("Cache read failed")
		return "", false
	}
	return value, found
}

// Set stores a response body under the configured TTL. With caching disabled
// it is a no-op that still reports success.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Set(ctx, key, value, c.ttl)
}
