package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/refreshd/pkg/lock"
	"github.com/dukex/refreshd/pkg/sessions"
	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. An empty URL returns a nil client.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewInFlight shares the in-flight set through Redis when a client is
// configured, otherwise keeps it in process.
func NewInFlight(client *redis.Client, lease time.Duration, logger *slog.Logger) lock.InFlight {
	if client == nil {
		return lock.NewMemory()
	}

	return lock.NewRedis(client, lease, logger)
}

// NewSessions reads sessions from Redis when a client is configured. Without
// one, sessions come from static "token=owner" pairs.
func NewSessions(client *redis.Client, static []string) (sessions.Store, error) {
	if client != nil {
		return sessions.NewRedis(client), nil
	}

	store := sessions.NewMemory()

	for _, pair := range static {
		token, owner, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(token) == "" || strings.TrimSpace(owner) == "" {
			return nil, fmt.Errorf("invalid session %q, expected token=owner", pair)
		}

		store.Put(strings.TrimSpace(token), strings.TrimSpace(owner))
	}

	return store, nil
}
