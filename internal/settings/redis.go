package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the settings fields.
const DefaultRedisKey = "vrtrack:settings"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string        // hash key, DefaultRedisKey if empty
	Timeout  time.Duration // per-operation timeout, 2s if zero
}

// RedisStore keeps settings as fields of a single Redis hash so several
// engine instances can share one configuration.
type RedisStore struct {
	stringStore
	client  *redis.Client
	key     string
	timeout time.Duration
}

// OpenRedisStore connects to Redis and verifies the connection.
func OpenRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Key == "" {
		cfg.Key = DefaultRedisKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := &RedisStore{client: client, key: cfg.Key, timeout: cfg.Timeout}
	s.stringStore = stringStore{get: s.get, set: s.set}
	return s, nil
}

func (s *RedisStore) get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	v, err := s.client.HGet(ctx, s.key, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", fmt.Errorf("%s: %w", key, ErrConfigUnavailable)
	case err != nil:
		return "", fmt.Errorf("%s: %w: %v", key, ErrConfigUnavailable, err)
	}
	return v, nil
}

func (s *RedisStore) set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
