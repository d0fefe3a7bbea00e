// Package objectstore holds document bytes outside the key-value namespace.
// Only object keys and checksums are kept with the document records; clients
// fetch content through short-lived download URLs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrObjectNotFound is returned for unknown keys
var ErrObjectNotFound = errors.New("objectstore: object not found")

// Store is the object storage collaborator used by the document service
type Store interface {
	// Put stores size bytes from r under key
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// DownloadURL returns a time-limited URL for key
	DownloadURL(ctx context.Context, key string) (string, error)

	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Config selects and configures the object store
type Config struct {
	Type string // "memory", "filesystem", "s3"

	// Filesystem
	FilesystemRoot string
	PublicBaseURL  string
	SigningKey     string

	// S3 / R2
	S3Endpoint     string
	S3AccountID    string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	URLExpiry time.Duration
}

// DefaultConfig returns demo-mode defaults
func DefaultConfig() Config {
	return Config{
		Type:           "memory",
		FilesystemRoot: "./data/objects",
		PublicBaseURL:  "http://localhost:8080/files",
		S3Region:       "auto",
		S3Bucket:       "mustardtree-documents",
		URLExpiry:      15 * time.Minute,
	}
}

// Endpoint resolves the S3 endpoint, deriving the R2 endpoint from the account id
func (c Config) Endpoint() string {
	if c.S3Endpoint != "" {
		return c.S3Endpoint
	}
	if c.S3AccountID != "" {
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.S3AccountID)
	}
	return ""
}

// Validate checks the settings required by the selected store
func (c Config) Validate() error {
	switch c.Type {
	case "memory":
	case "filesystem":
		if c.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem object storage")
		}
		if c.SigningKey == "" {
			return fmt.Errorf("signing key is required for filesystem object storage")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("bucket is required for s3 object storage")
		}
		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return fmt.Errorf("s3 access key and secret key must be set together")
		}
	default:
		return fmt.Errorf("invalid object storage type: %s (must be memory, filesystem, or s3)", c.Type)
	}
	if c.URLExpiry <= 0 {
		return fmt.Errorf("download URL expiry must be positive")
	}
	return nil
}

// Open builds the store selected by cfg.Type
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "filesystem":
		return NewFileSystemStore(cfg.FilesystemRoot, cfg.PublicBaseURL, []byte(cfg.SigningKey), cfg.URLExpiry)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return NewMemoryStore(""), nil
	}
}
