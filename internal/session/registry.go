// Package session provides an optional Redis-backed registry of live
// sessions. When configured, a token is only honored while its JTI is still
// registered, so logout revokes the cookie server-side instead of merely
// clearing it in the browser.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Registry struct {
	client *redis.Client
	prefix string
}

func NewRegistry(redisURL string) (*Registry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Registry{client: client, prefix: "session:"}, nil
}

func (r *Registry) key(jti string) string {
	return r.prefix + jti
}

// Record registers a freshly issued session under its JTI, expiring with the
// token itself.
func (r *Registry) Record(ctx context.Context, jti, username string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	if err := r.client.Set(ctx, r.key(jti), username, ttl).Err(); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// Active reports whether the session is still registered.
func (r *Registry) Active(ctx context.Context, jti string) (bool, error) {
	_, err := r.client.Get(ctx, r.key(jti)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return true, nil
}

// Revoke removes the session; subsequent requests with the same token are
// rejected even before its expiry.
func (r *Registry) Revoke(ctx context.Context, jti string) error {
	if err := r.client.Del(ctx, r.key(jti)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *Registry) Close() error {
	return r.client.Close()
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
