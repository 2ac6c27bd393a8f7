// Package redisreg implements the worker registry (C7) against a shared
// Redis instance: desired-state and config hashes, NX locks with a
// compare-and-refresh/compare-and-delete Lua guard, and TTL'd heartbeats.
package redisreg

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient creates a go-redis client from a URL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=redisreg.parse_url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("op=redisreg.ping: %w", err)
	}
	return client, nil
}
