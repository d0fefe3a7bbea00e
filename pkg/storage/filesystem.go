package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// FileSystemKV stores each key as <root>/<key>.json. Versions are tracked in
// process, so the directory must not be shared by several instances.
type FileSystemKV struct {
	rootDir string

	mu       sync.Mutex
	versions map[string]int64
}

// NewFileSystemKV creates the root directory if needed
func NewFileSystemKV(rootDir string) (*FileSystemKV, error) {
	if err := os.MkdirAll(rootDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemKV{rootDir: rootDir, versions: make(map[string]int64)}, nil
}

func (s *FileSystemKV) path(key string) string {
	return filepath.Join(s.rootDir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

// version returns the tracked version, treating a file written by an earlier
// process as version 1. Caller holds s.mu.
func (s *FileSystemKV) version(key string) (int64, error) {
	if v, ok := s.versions[key]; ok {
		return v, nil
	}
	_, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	s.versions[key] = 1
	return 1, nil
}

func (s *FileSystemKV) Get(ctx context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read %s: %w", key, err)
	}
	v, err := s.version(key)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Value: data, Version: v}, nil
}

func (s *FileSystemKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.version(key)
	if err != nil {
		return 0, err
	}
	if expected != AnyVersion && expected != current {
		return 0, ErrConflict
	}

	tmp, err := os.CreateTemp(s.rootDir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", key, err)
	}

	s.versions[key] = current + 1
	return current + 1, nil
}

func (s *FileSystemKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	delete(s.versions, key)
	return nil
}

// HealthCheck verifies the root directory is still writable
func (s *FileSystemKV) HealthCheck(ctx context.Context) error {
	f, err := os.CreateTemp(s.rootDir, ".health-*")
	if err != nil {
		return fmt.Errorf("filesystem storage not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *FileSystemKV) Close() error { return nil }
