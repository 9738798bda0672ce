// Package lock provides the in-flight set that keeps a schedule from running
// twice at the same time.
package lock

import (
	"context"
	"sort"
	"sync"
)

// InFlight tracks schedule ids with a running execution.
type InFlight interface {
	// TryAcquire adds key and reports whether it was absent.
	TryAcquire(ctx context.Context, key string) (bool, error)
	// Release removes a key this process acquired.
	Release(ctx context.Context, key string) error
	// List returns the keys currently held, sorted.
	List(ctx context.Context) ([]string, error)
}

// Memory is a process-local InFlight.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) TryAcquire(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return false, nil
	}

	m.held[key] = struct{}{}

	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, key)

	return nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.held))
	for key := range m.held {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys, nil
}
