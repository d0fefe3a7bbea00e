package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get for a key that was never written
	ErrNotFound = errors.New("storage: key not found")
	// ErrConflict is returned by Put when the expected version is stale
	ErrConflict = errors.New("storage: version conflict")
	// ErrCorrupt is returned when a stored value cannot be decoded
	ErrCorrupt = errors.New("storage: corrupt value")
	// ErrSkipWrite may be returned from an Update mutator to leave the key untouched
	ErrSkipWrite = errors.New("storage: skip write")
)

// AnyVersion disables the version check in Put
const AnyVersion int64 = -1

// Entry is a stored value with its version. Versions start at 1.
type Entry struct {
	Value   []byte
	Version int64
}

// KV is a flat versioned key-value namespace
type KV interface {
	// Get returns ErrNotFound for unknown keys
	Get(ctx context.Context, key string) (Entry, error)

	// Put stores value when the current version equals expected (0 means
	// the key must not exist yet, AnyVersion skips the check) and returns
	// the new version.
	Put(ctx context.Context, key string, value []byte, expected int64) (int64, error)

	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Keys of the portal namespace
const (
	KeyAdminAccounts  = "admin_accounts"
	KeySessions       = "sessions"
	KeyAuthors        = "authors"
	KeyPosts          = "posts"
	KeyDocuments      = "documents"
	KeyCustomers      = "customers"
	KeyFolders        = "folders"
	KeyDocumentAccess = "document_access"
	KeyWebhooks       = "webhooks"
)
