// Package cache provides Redis-backed session contexts and permission
// snapshot caching. Everything here is optional: a nil client degrades to
// pass-through behavior.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"amexing.org/internal/obs"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection with a short ping.
// Returns nil on failure; callers treat a nil client as "no cache".
func NewClient(opts Options) *redis.Client {
	if opts.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		obs.LogEvent("cache.redis.unavailable", map[string]any{"addr": opts.Addr, "error": err.Error()})
		_ = client.Close()
		return nil
	}
	return client
}
