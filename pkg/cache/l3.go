package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by an L3Tier when a key has no live entry.
// Grounded on oriys-nova/internal/cache/cache.go's Cache.ErrNotFound.
var ErrNotFound = errors.New("cache: key not found")

// L3Tier abstracts the cold, cross-node shared tier. The spec leaves the
// backing engine to implementers; this module picks Redis (see
// RedisL3Tier) but callers only ever see this narrow interface.
type L3Tier interface {
	Get(ctx context.Context, hostname string) ([]byte, error)
	Set(ctx context.Context, hostname string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, hostname string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisL3Tier implements L3Tier backed by Redis. Grounded on
// oriys-nova/internal/cache/redis.go's RedisCache (key-prefixing,
// redis.Nil -> ErrNotFound translation); ported to the go-redis/v8 module
// to match this repo's go.mod (oriys-nova's own go.mod pins v8 even though
// its source imports the v9 package path, a pre-existing inconsistency in
// that repo documented in DESIGN.md).
type RedisL3Tier struct {
	client *redis.Client
	prefix string
}

// RedisL3Config configures the Redis-backed L3 tier.
type RedisL3Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisL3Tier creates a Redis-backed L3 tier from connection settings.
func NewRedisL3Tier(cfg RedisL3Config) *RedisL3Tier {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gosible:facts:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisL3Tier{client: client, prefix: prefix}
}

func (r *RedisL3Tier) key(hostname string) string {
	return r.prefix + hostname
}

func (r *RedisL3Tier) Get(ctx context.Context, hostname string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(hostname)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisL3Tier) Set(ctx context.Context, hostname string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(hostname), value, ttl).Err()
}

func (r *RedisL3Tier) Delete(ctx context.Context, hostname string) error {
	return r.client.Del(ctx, r.key(hostname)).Err()
}

func (r *RedisL3Tier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisL3Tier) Close() error {
	return r.client.Close()
}
