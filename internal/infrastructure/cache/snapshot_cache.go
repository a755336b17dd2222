// Package cache provides Redis-backed storage for finished generation results
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/culinara/v2/internal/infrastructure/config"
)

// SnapshotCache stores the final payload of completed generations so repeated
// requests replay without a provider call. It implements the snapshot cache
// port; a nil *SnapshotCache interface value must not be passed to consumers,
// pass nil directly when caching is disabled.
type SnapshotCache struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewSnapshotCache connects to Redis and verifies the connection.
func NewSnapshotCache(cfg config.RedisConfig, logger *zap.Logger) (*SnapshotCache, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.Named("snapshot-cache")
	logger.Info("snapshot cache connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("database", cfg.Database))

	return &SnapshotCache{client: client, logger: logger}, nil
}

// GetSnapshot returns the cached payload for the key, reporting whether it was
// present. A missing key is not an error.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.logger.Debug("snapshot miss", zap.String("key", key))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot GET failed: %w", err)
	}

	c.logger.Debug("snapshot hit",
		zap.String("key", key),
		zap.Int("bytes", len(payload)))
	return payload, true, nil
}

// SetSnapshot stores the payload under the key for the given TTL.
func (c *SnapshotCache) SetSnapshot(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("snapshot SET failed: %w", err)
	}
	c.logger.Debug("snapshot stored",
		zap.String("key", key),
		zap.Int("bytes", len(payload)),
		zap.Duration("ttl", ttl))
	return nil
}

// Close releases the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
