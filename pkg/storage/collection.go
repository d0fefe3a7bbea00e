package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mustardtree/portal/pkg/observability"
)

const defaultUpdateAttempts = 3

type collectionConfig struct {
	policy   CorruptPolicy
	logger   *observability.Logger
	attempts int
}

// CollectionOption configures a Collection
type CollectionOption func(*collectionConfig)

// WithCorruptPolicy sets what happens on undecodable JSON (default CorruptFail)
func WithCorruptPolicy(p CorruptPolicy) CollectionOption {
	return func(c *collectionConfig) {
		if p != "" {
			c.policy = p
		}
	}
}

func WithLogger(l *observability.Logger) CollectionOption {
	return func(c *collectionConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUpdateAttempts bounds the CAS retries of Update
func WithUpdateAttempts(n int) CollectionOption {
	return func(c *collectionConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// Collection is a typed JSON array stored under a single key. All writes
// from this process go through one mutex; writes from other processes are
// detected through the entry version.
type Collection[T any] struct {
	kv   KV
	key  string
	seed func() []T
	cfg  collectionConfig

	mu sync.Mutex
}

// NewCollection binds key of kv to element type T. seed may be nil, in which
// case a missing key reads as an empty list.
func NewCollection[T any](kv KV, key string, seed func() []T, opts ...CollectionOption) *Collection[T] {
	cfg := collectionConfig{
		policy:   CorruptFail,
		logger:   observability.NopLogger(),
		attempts: defaultUpdateAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Collection[T]{kv: kv, key: key, seed: seed, cfg: cfg}
}

// Key returns the storage key of the collection
func (c *Collection[T]) Key() string {
	return c.key
}

func (c *Collection[T]) seedItems() []T {
	if c.seed == nil {
		return []T{}
	}
	items := c.seed()
	if items == nil {
		return []T{}
	}
	return items
}

// read decodes the current entry. For a missing key it returns the seed with
// version 0; for corrupt data under CorruptReseed it returns the seed with
// the corrupt entry's version so the next write replaces it.
func (c *Collection[T]) read(ctx context.Context) ([]T, int64, bool, error) {
	entry, err := c.kv.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return c.seedItems(), 0, true, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read %s: %w", c.key, err)
	}

	var items []T
	if err := json.Unmarshal(entry.Value, &items); err != nil {
		if c.cfg.policy == CorruptReseed {
			c.cfg.logger.WithError(err).WithField("key", c.key).Error("corrupt collection replaced with defaults")
			return c.seedItems(), entry.Version, true, nil
		}
		return nil, 0, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, c.key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, entry.Version, false, nil
}

// Load returns the stored items, persisting the seed on first access
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	items, version, seeded, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	if !seeded || (c.seed == nil && version == 0) {
		return items, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err = c.write(ctx, items, version)
	switch {
	case err == nil:
		return items, nil
	case errors.Is(err, ErrConflict):
		// Another writer initialised the key first; theirs wins.
		fresh, _, _, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	default:
		return nil, err
	}
}

// Update applies fn to the current items and stores the result. fn may run
// more than once when a concurrent writer wins; it must not keep references
// to the slice between calls. Returning ErrSkipWrite from fn leaves storage
// untouched and Update returns the unchanged items.
func (c *Collection[T]) Update(ctx context.Context, fn func(items []T) ([]T, error)) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < c.cfg.attempts; attempt++ {
		items, version, _, err := c.read(ctx)
		if err != nil {
			return nil, err
		}

		next, err := fn(items)
		if errors.Is(err, ErrSkipWrite) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}

		err = c.write(ctx, next, version)
		if errors.Is(err, ErrConflict) {
			c.cfg.logger.WithField("key", c.key).WithField("attempt", attempt+1).Debug("update conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}

	return nil, fmt.Errorf("%w: %s after %d attempts", ErrConflict, c.key, c.cfg.attempts)
}

func (c *Collection[T]) write(ctx context.Context, items []T, expected int64) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.key, err)
	}
	if _, err := c.kv.Put(ctx, c.key, data, expected); err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to write %s: %w", c.key, err)
	}
	return nil
}
