// Package lockmeta caches immutable-ish lock contract metadata (name, owner)
// behind an explicit TTL so cache lifetime is a testable contract rather than
// a process-lifetime map.
package lockmeta

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is used when no TTL is configured. Lock names and owners change
// rarely; Invalidate covers the cases where they do.
const DefaultTTL = 10 * time.Minute

// Reader is the read capability for one lock contract. *chain.PublicLock
// satisfies it.
type Reader interface {
	Name(ctx context.Context) (string, error)
	Owner(ctx context.Context) (common.Address, error)
}

// Fetch binds a Reader for a lock address.
type Fetch func(lock common.Address) Reader

type Cache struct {
	rdb   *redis.Client
	ttl   time.Duration
	fetch Fetch
}

func New(rdb *redis.Client, ttl time.Duration, fetch Fetch) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, fetch: fetch}
}

func nameKey(lock common.Address) string {
	return "sponsor:lockmeta:name:" + strings.ToLower(lock.Hex())
}

func ownerKey(lock common.Address) string {
	return "sponsor:lockmeta:owner:" + strings.ToLower(lock.Hex())
}

// Name returns the lock's display name, reading through the cache.
func (c *Cache) Name(ctx context.Context, lock common.Address) (string, error) {
	if v, err := c.rdb.Get(ctx, nameKey(lock)).Result(); err == nil {
		return v, nil
	}
	name, err := c.fetch(lock).Name(ctx)
	if err != nil {
		return "", fmt.Errorf("lock name: %w", err)
	}
	// Cache write is best-effort; a miss next time just refetches.
	c.rdb.Set(ctx, nameKey(lock), name, c.ttl)
	return name, nil
}

// Owner returns the lock's owner address, reading through the cache.
func (c *Cache) Owner(ctx context.Context, lock common.Address) (common.Address, error) {
	if v, err := c.rdb.Get(ctx, ownerKey(lock)).Result(); err == nil {
		return common.HexToAddress(v), nil
	}
	owner, err := c.fetch(lock).Owner(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("lock owner: %w", err)
	}
	c.rdb.Set(ctx, ownerKey(lock), owner.Hex(), c.ttl)
	return owner, nil
}

// Invalidate drops the cached entries for one lock.
func (c *Cache) Invalidate(ctx context.Context, lock common.Address) error {
	return c.rdb.Del(ctx, nameKey(lock), ownerKey(lock)).Err()
}
