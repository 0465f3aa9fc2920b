// Package redis implements the response cache on Redis, for deployments
// where multiple instances should share cached answers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tradegate/customs-copilot/cache"
	cfg "github.com/tradegate/customs-copilot/config"
	"github.com/tradegate/customs-copilot/pkg/env"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
func RedisConfigFromEnv() *RedisConfig {
	return &RedisConfig{
		Addr:     env.GetEnv("REDIS_ADDR", "localhost:6379"),
		Password: env.GetEnv("REDIS_PASSWORD", ""),
		DB:       env.GetEnvInt("REDIS_DB", 0),
		Prefix:   env.GetEnv("REDIS_PREFIX", "customs"),
	}
}

// RedisCache implements cache.Cache on Redis with JSON payloads.
type RedisCache struct {
	client *goredis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = RedisConfigFromEnv()
	}
	if err := cfg.ValidateRedisConfig(config.Addr, config.DB, config.Prefix); err != nil {
		return nil, fmt.Errorf("invalid Redis configuration: %w", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisCache{client: client, prefix: config.Prefix}, nil
}

// Get returns the cached payload or (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*cache.Payload, error) {
	data, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var payload cache.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode cached payload: %w", err)
	}
	return &payload, nil
}

// Put stores the payload under the key with a TTL.
func (c *RedisCache) Put(ctx context.Context, key string, payload *cache.Payload, ttl time.Duration) error {
	if payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := c.client.Set(ctx, c.prefixed(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) prefixed(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}
