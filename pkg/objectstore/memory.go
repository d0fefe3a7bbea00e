package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// DefaultMockBaseURL prefixes download URLs handed out in demo mode
const DefaultMockBaseURL = "https://mock-r2-url.com"

// Object is a stored blob in MemoryStore
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in memory and hands out placeholder URLs
type MemoryStore struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore creates an empty store; an empty baseURL uses DefaultMockBaseURL
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = DefaultMockBaseURL
	}
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("object size mismatch: got %d bytes, want %d", n, size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: buf.Bytes(), ContentType: contentType}
	return nil
}

func (m *MemoryStore) DownloadURL(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", ErrObjectNotFound
	}
	return m.baseURL + "/" + key, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

// Object returns a stored object, for tests
func (m *MemoryStore) Object(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	return o, ok
}
