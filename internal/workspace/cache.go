package workspace

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/biq-mapview/internal/cache/keys"
	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
)

// Cache is the subset of redisstore.Client used here.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedProvider is a read-through cache in front of a Loader. Cache errors
// are logged and bypassed; load errors are never cached.
type CachedProvider struct {
	next   Loader
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Loader, c Cache, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{next: next, cache: c, ttl: ttl, logger: logger}
}

func (c *CachedProvider) Load(ctx context.Context, userID string) (model.Workspace, error) {
	key := keys.WorkspaceKey(userID)

	b, found, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warn("workspace cache get failed", "key", key, "err", err)
	case found:
		var ws model.Workspace
		if err := json.Unmarshal(b, &ws); err == nil {
			return ws, nil
		}
		c.logger.Warn("workspace cache entry corrupt; reloading", "key", key)
	}

	ws, err := c.next.Load(ctx, userID)
	if err != nil {
		return model.Workspace{}, err
	}

	if b, err := json.Marshal(ws); err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			c.logger.Warn("workspace cache set failed", "key", key, "err", err)
		}
	}
	return ws, nil
}

// Invalidate drops the cached workspace for a user.
func (c *CachedProvider) Invalidate(ctx context.Context, userID string) error {
	return c.cache.Del(ctx, keys.WorkspaceKey(userID))
}
