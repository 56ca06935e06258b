package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"amexing.org/internal/auth"
)

const snapshotKeyPrefix = "authz:perms:"

// SnapshotCache keeps short-lived resolved permission snapshots in Redis.
// The TTL bounds staleness between a grant change and the next full
// resolution; delegation and role changes invalidate eagerly.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ auth.SnapshotCache = (*SnapshotCache)(nil)

// NewSnapshotCache wraps a Redis client. A nil client yields a cache that
// always misses.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func (c *SnapshotCache) GetSnapshot(ctx context.Context, userID string) ([]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, snapshotKeyPrefix+userID).Bytes()
	if err != nil {
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false
	}
	return perms, true
}

func (c *SnapshotCache) PutSnapshot(ctx context.Context, userID string, perms []string) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	// Best effort: a failed SET just means the next check resolves again.
	_ = c.client.Set(ctx, snapshotKeyPrefix+userID, raw, c.ttl).Err()
}

func (c *SnapshotCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, snapshotKeyPrefix+userID).Err()
}
