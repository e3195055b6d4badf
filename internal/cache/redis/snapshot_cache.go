package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/varalabs/dexmetrics/internal/domain"
)

const (
	assetsKey        = "assets:json"
	pairsKey         = "pairs:json"
	votersKey        = "voters:json"
	positionCountKey = "venft:count"
)

// SnapshotCache implements domain.SnapshotCache. Each snapshot is written
// with one SET (value plus expiry), so a key always holds either the previous
// complete document or the new one, never a mix.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache with the given snapshot TTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

// SetAssets replaces the token registry snapshot.
func (sc *SnapshotCache) SetAssets(ctx context.Context, data []byte) error {
	return sc.set(ctx, assetsKey, data)
}

// Assets returns the token registry snapshot.
func (sc *SnapshotCache) Assets(ctx context.Context) ([]byte, error) {
	return sc.get(ctx, assetsKey)
}

// SetPairs replaces the pools snapshot.
func (sc *SnapshotCache) SetPairs(ctx context.Context, data []byte) error {
	return sc.set(ctx, pairsKey, data)
}

// Pairs returns the pools snapshot.
func (sc *SnapshotCache) Pairs(ctx context.Context) ([]byte, error) {
	return sc.get(ctx, pairsKey)
}

// SetVoters replaces the vote tally snapshot.
func (sc *SnapshotCache) SetVoters(ctx context.Context, data []byte) error {
	return sc.set(ctx, votersKey, data)
}

// Voters returns the vote tally snapshot.
func (sc *SnapshotCache) Voters(ctx context.Context) ([]byte, error) {
	return sc.get(ctx, votersKey)
}

// SetPositionCount stores the last known governance position count. The key
// carries no expiry: it is a fallback for cycles where the live count cannot
// be fetched.
func (sc *SnapshotCache) SetPositionCount(ctx context.Context, count uint64) error {
	if err := sc.rdb.Set(ctx, positionCountKey, strconv.FormatUint(count, 10), 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", positionCountKey, err)
	}
	return nil
}

// PositionCount returns the last known governance position count.
func (sc *SnapshotCache) PositionCount(ctx context.Context) (uint64, error) {
	val, err := sc.rdb.Get(ctx, positionCountKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get %s: %w", positionCountKey, err)
	}
	count, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse %s: %w", positionCountKey, err)
	}
	return count, nil
}

func (sc *SnapshotCache) set(ctx context.Context, key string, data []byte) error {
	if err := sc.rdb.Set(ctx, key, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (sc *SnapshotCache) get(ctx context.Context, key string) ([]byte, error) {
	data, err := sc.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
