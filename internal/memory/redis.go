package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each namespace in one Redis hash named
// prefix+namespace.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, prefix: opts.KeyPrefix}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hash(namespace string) string {
	return s.prefix + namespace
}

// Read returns the value for namespace/key.
func (s *RedisStore) Read(ctx context.Context, namespace, key string) (string, bool, error) {
	if err := checkKey(namespace, key); err != nil {
		return "", false, err
	}
	v, err := s.client.HGet(ctx, s.hash(namespace), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s/%s: %w", namespace, key, err)
	}
	return v, true, nil
}

// Write creates or overwrites namespace/key.
func (s *RedisStore) Write(ctx context.Context, namespace, key, value string) error {
	if err := checkKey(namespace, key); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hash(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("write %s/%s: %w", namespace, key, err)
	}
	return nil
}

// ListKeys returns the keys of a namespace in sorted order.
func (s *RedisStore) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	if !ValidNamespace(namespace) {
		return nil, fmt.Errorf("%w: unknown namespace %q", ErrInvalidKey, namespace)
	}
	keys, err := s.client.HKeys(ctx, s.hash(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
