package storage

import (
	"fmt"
	"time"
)

// CorruptPolicy decides what a Collection does with undecodable JSON
type CorruptPolicy string

const (
	// CorruptFail surfaces ErrCorrupt to the caller
	CorruptFail CorruptPolicy = "fail"
	// CorruptReseed logs the problem and overwrites the key with the seed
	CorruptReseed CorruptPolicy = "reseed"
)

// Config for the key-value backend
type Config struct {
	Type string // "memory", "filesystem", "redis", "postgres", "sqlite"

	// Filesystem
	FilesystemRoot string

	// Redis
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string

	// SQL
	PostgresURL string
	SQLitePath  string
	SQLMaxConns int
	SQLTimeout  time.Duration

	// L1 cache in front of the backend
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration

	CorruptPolicy CorruptPolicy
}

// DefaultConfig returns the development defaults
func DefaultConfig() Config {
	return Config{
		Type:            "filesystem",
		FilesystemRoot:  "./data/kv",
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		RedisKeyPrefix:  "portal:",
		SQLitePath:      "./data/portal.db",
		SQLMaxConns:     10,
		SQLTimeout:      10 * time.Second,
		CacheEnabled:    true,
		CacheSize:       64,
		CacheTTL:        5 * time.Second,
		CorruptPolicy:   CorruptFail,
	}
}

// Validate checks the settings required by the selected backend
func (c Config) Validate() error {
	switch c.Type {
	case "memory":
	case "filesystem":
		if c.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, filesystem, redis, postgres, or sqlite)", c.Type)
	}

	switch c.CorruptPolicy {
	case CorruptFail, CorruptReseed:
	default:
		return fmt.Errorf("invalid corrupt policy: %s (must be fail or reseed)", c.CorruptPolicy)
	}

	if c.CacheEnabled && c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}
	return nil
}
