package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a single Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr (host:port) lazily — go-redis connects on first
// use — with the given database, password, and dial timeout.
func NewRedisStore(addr, password string, database int, dialTimeout time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DB:          database,
			DialTimeout: dialTimeout,
		}),
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MGet issues a single Redis MGET. Keys Redis reports as absent come back
// as nil entries, preserving input order.
func (s *RedisStore) MGet(ctx context.Context, keys []string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: mget: %w", err)
	}

	out := make([]*string, len(raw))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = &str
	}
	return out, nil
}

// MSet issues a single Redis MSET covering every pair in values.
func (s *RedisStore) MSet(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	pairs := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}

	if err := s.client.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("cache: mset: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
