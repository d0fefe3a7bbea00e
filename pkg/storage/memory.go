package storage

import (
	"context"
	"sync"
)

// MemoryKV keeps entries in process memory
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryKV creates an empty in-memory namespace
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]Entry)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Value: append([]byte(nil), e.Value...), Version: e.Version}, nil
}

func (m *MemoryKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.entries[key].Version
	if expected != AnyVersion && expected != current {
		return 0, ErrConflict
	}
	next := current + 1
	m.entries[key] = Entry{Value: append([]byte(nil), value...), Version: next}
	return next, nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryKV) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryKV) Close() error { return nil }
