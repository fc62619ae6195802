// Package cache implements the small set of TTL+stale caches (firmware
// "latest version", directory size, repo info, commit snapshot), all
// backed by the shared kv store rather than an in-process map, so a
// restarted front end doesn't lose a warm cache the worker already
// populated.
package cache

import (
	"context"
	"time"

	"github.com/WINGS-N/unica-wb/internal/kv"
)

// entry is the stored shape for every cache row: value plus the instant
// it was written, so freshness/staleness windows can be computed by the
// reader rather than relying on Redis key expiry (which would lose the
// stale value entirely).
type entry struct {
	Value   any       `json:"value"`
	WroteAt time.Time `json:"wrote_at"`
	Failed  bool      `json:"failed"`
}

// Cache serves one keyspace with the serve-stale rule from §4.10: if
// fresh, return it; else if a recent failure occurred within the retry
// window, return stale; else attempt a fresh fetch, falling back to
// whatever stale value exists on failure.
type Cache struct {
	kv         kv.Store
	keyPrefix  string
	freshTTL   time.Duration
	retryDelay time.Duration
}

// New builds a Cache. retryDelay of 0 disables the "serve stale during
// a retry window after failure" behavior — used by caches with no
// documented retry window (directory size, repo info, commit snapshot).
func New(store kv.Store, keyPrefix string, freshTTL, retryDelay time.Duration) *Cache {
	return &Cache{kv: store, keyPrefix: keyPrefix, freshTTL: freshTTL, retryDelay: retryDelay}
}

// Fetch resolves key, calling refresh only when neither a fresh value
// nor an in-retry-window stale value is available. now lets tests
// control freshness deterministically.
func (c *Cache) Fetch(ctx context.Context, key string, now time.Time, refresh func(ctx context.Context) (any, error)) (any, error) {
	fullKey := c.keyPrefix + key
	var e entry
	ok, _ := c.kv.GetJSON(ctx, fullKey, &e)

	if ok && !e.Failed && now.Sub(e.WroteAt) < c.freshTTL {
		return e.Value, nil
	}
	if ok && e.Failed && c.retryDelay > 0 && now.Sub(e.WroteAt) < c.retryDelay {
		return e.Value, nil
	}

	value, err := refresh(ctx)
	if err != nil {
		_ = c.kv.SetJSON(ctx, fullKey, entry{Value: e.Value, WroteAt: now, Failed: true}, 0)
		if ok {
			return e.Value, nil // serve whatever stale value exists
		}
		return nil, err
	}

	_ = c.kv.SetJSON(ctx, fullKey, entry{Value: value, WroteAt: now, Failed: false}, 0)
	return value, nil
}

// Invalidate drops key's cached entry, forcing the next Fetch to refresh
// (used after repo clone/pull/delete to invalidate repo/commit caches).
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, c.keyPrefix+key)
}

// Well-known cache instances per §4.10's table.
const (
	FirmwareLatestPrefix = "un1ca:cache:firmware_latest:"
	DirectorySizePrefix  = "un1ca:cache:dir_size:"
	RepoInfoPrefix       = "un1ca:cache:repo_info:"
	CommitSnapshotPrefix = "un1ca:cache:commit_snapshot:"

	FirmwareLatestTTL   = 3600 * time.Second
	FirmwareLatestRetry = 60 * time.Second
	DirectorySizeTTL    = 1200 * time.Second
	RepoInfoTTL         = 30 * time.Second
	CommitSnapshotTTL   = 30 * time.Second
)
