// Package cache provides the local key/value snapshot store the session
// collection mirrors itself into. It is a fallback read path, never the
// source of truth.
package cache

import (
	"context"
	"sync"
)

// Keys under which snapshots are stored.
const (
	KeySessions        = "sessions"
	KeyCustomerRecords = "customer_records"
)

// Memory is an in-process cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory returns an empty cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Get returns the value stored under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set stores value under key, replacing any previous value.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.entries[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
