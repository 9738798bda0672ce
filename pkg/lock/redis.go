package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "refreshd:inflight:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is an InFlight shared by every replica using the same Redis. Keys
// carry a lease so a crashed replica does not hold a schedule forever.
type Redis struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis creates a Redis backed InFlight. lease should exceed the longest
// execution.
func NewRedis(client redis.UniversalClient, lease time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: defaultKeyPrefix,
		lease:  lease,
		logger: logger.With("module", "redis_inflight"),
		tokens: make(map[string]string),
	}
}

func (r *Redis) TryAcquire(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()

	acquired, err := r.client.SetNX(ctx, r.prefix+key, token, r.lease).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire in-flight key %s: %w", key, err)
	}

	if !acquired {
		return false, nil
	}

	r.mu.Lock()
	r.tokens[key] = token
	r.mu.Unlock()

	return true, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	deleted, err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release in-flight key %s: %w", key, err)
	}

	if deleted == 0 {
		r.logger.WarnContext(ctx, "in-flight lease expired before release", "key", key)
	}

	return nil
}

func (r *Redis) List(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)

	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list in-flight keys: %w", err)
	}

	sort.Strings(keys)

	return keys, nil
}
