package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	fieldValue   = "value"
	fieldVersion = "version"
)

// RedisKV stores each key as a hash with value and version fields
type RedisKV struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisClient builds and pings a client from cfg
func NewRedisClient(cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewRedisKV connects using cfg; Close releases the client
func NewRedisKV(cfg Config) (*RedisKV, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisKV{client: client, prefix: cfg.RedisKeyPrefix, owned: true}, nil
}

// NewRedisKVFromClient shares an existing client; Close leaves it open
func NewRedisKVFromClient(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

func (c *RedisKV) key(key string) string {
	return c.prefix + key
}

func (c *RedisKV) Get(ctx context.Context, key string) (Entry, error) {
	fields, err := c.client.HGetAll(ctx, c.key(key)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("redis get failed: %w", err)
	}
	if len(fields) == 0 {
		return Entry{}, ErrNotFound
	}

	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad version for %s", ErrCorrupt, key)
	}
	return Entry{Value: []byte(fields[fieldValue]), Version: version}, nil
}

// Put runs the version check and write inside WATCH/MULTI so a concurrent
// writer on another instance aborts the transaction.
func (c *RedisKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	k := c.key(key)
	var next int64

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if expected != AnyVersion && expected != current {
			return ErrConflict
		}

		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldValue, value, fieldVersion, next)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return 0, ErrConflict
	default:
		return 0, fmt.Errorf("redis put failed: %w", err)
	}
}

func (c *RedisKV) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *RedisKV) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client exposes the underlying client so the rate limiter can share it
func (c *RedisKV) Client() *redis.Client {
	return c.client
}

func (c *RedisKV) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}
