// Package sessions resolves session tokens issued by the authentication
// service to the id of the signed-in user.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned for unknown or expired tokens.
var ErrSessionNotFound = errors.New("session not found")

// Store resolves a session token to an owner id.
type Store interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Memory keeps sessions in process. Used by tests and single-user setups.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]string)}
}

// Put registers token for ownerID.
func (m *Memory) Put(token, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[token] = ownerID
}

// Delete forgets token.
func (m *Memory) Delete(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, token)
}

func (m *Memory) Resolve(_ context.Context, token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ownerID, ok := m.sessions[token]
	if !ok || token == "" {
		return "", ErrSessionNotFound
	}

	return ownerID, nil
}

// Redis reads sessions written by the authentication service as
// "session:<token>" keys holding the user id.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: "session:"}
}

func (r *Redis) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrSessionNotFound
	}

	ownerID, err := r.client.Get(ctx, r.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to read session: %w", err)
	}

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", ErrSessionNotFound
	}

	return ownerID, nil
}
