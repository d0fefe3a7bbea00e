package storage

import (
	"context"
	"fmt"

	"github.com/mustardtree/portal/pkg/observability"
)

// Open builds the backend selected by cfg.Type, instrumented and optionally
// fronted by the L1 cache. metrics may be nil.
func Open(ctx context.Context, cfg Config, logger *observability.Logger, metrics *observability.Metrics) (KV, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend KV
		err     error
	)
	switch cfg.Type {
	case "memory":
		backend = NewMemoryKV()
	case "filesystem":
		backend, err = NewFileSystemKV(cfg.FilesystemRoot)
	case "redis":
		backend, err = NewRedisKV(cfg)
	case "postgres", "sqlite":
		backend, err = OpenSQLKV(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Type, err)
	}

	logger.WithField("backend", cfg.Type).Info("key-value storage ready")

	var kv KV = Instrument(backend, cfg.Type, metrics)
	if cfg.CacheEnabled && cfg.Type != "memory" {
		kv = NewCachedKV(kv, cfg.CacheSize, cfg.CacheTTL, metrics)
	}
	return kv, nil
}
