package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"amexing.org/internal/auth"
)

const contextKeyPrefix = "session:ctx:"

// ContextStore keeps per-session permission contexts in Redis. Entries share
// the session lifetime, so a generous TTL doubles as garbage collection for
// sessions that never call Close.
type ContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ auth.ContextStore = (*ContextStore)(nil)

func NewContextStore(client *redis.Client, ttl time.Duration) *ContextStore {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &ContextStore{client: client, ttl: ttl}
}

func (s *ContextStore) Save(ctx context.Context, pc *auth.PermissionContext) error {
	if s.client == nil {
		return auth.ErrNotFound
	}
	raw, err := json.Marshal(pc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, contextKeyPrefix+pc.SessionID, raw, s.ttl).Err()
}

func (s *ContextStore) Find(ctx context.Context, sessionID string) (*auth.PermissionContext, error) {
	if s.client == nil {
		return nil, auth.ErrNotFound
	}
	raw, err := s.client.Get(ctx, contextKeyPrefix+sessionID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	var pc auth.PermissionContext
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

func (s *ContextStore) Delete(ctx context.Context, sessionID string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, contextKeyPrefix+sessionID).Err()
}
