package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKVConfig configures the redis backend.
type RedisKVConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces workspace keys in a shared instance.
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultRedisKVConfig returns defaults for a local redis.
func DefaultRedisKVConfig() RedisKVConfig {
	return RedisKVConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "genstudio:",
	}
}

// RedisKV stores workspace snapshots in redis.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV connects and verifies the connection with a ping.
func NewRedisKV(cfg RedisKVConfig) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisKV{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewRedisKVFromClient wraps an existing client; used by tests.
func NewRedisKVFromClient(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

// Get returns the value for key.
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put stores the value without expiry; workspace snapshots live until
// replaced or deleted.
func (s *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

// Delete removes the key.
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Close closes the underlying client.
func (s *RedisKV) Close() error {
	return s.client.Close()
}
