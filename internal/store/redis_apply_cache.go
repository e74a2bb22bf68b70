package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisApplyCache implements ApplyCache for Redis
type RedisApplyCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisApplyCache creates a new Redis apply cache
func NewRedisApplyCache(host string, port int, password string, db int, logger *zap.Logger) (ApplyCache, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisApplyCache{
		client: client,
		logger: logger,
	}, nil
}

func applyCacheKey(tenantID, containerRef string) string {
	return fmt.Sprintf("assets:%s:%s", tenantID, containerRef)
}

// Get retrieves the last converged desired set hash for a tenant container
func (c *RedisApplyCache) Get(ctx context.Context, tenantID, containerRef string) (string, error) {
	hash, err := c.client.Get(ctx, applyCacheKey(tenantID, containerRef)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Set records the desired set hash that converged for a tenant container
func (c *RedisApplyCache) Set(ctx context.Context, tenantID, containerRef, desiredHash string, ttl time.Duration) error {
	return c.client.Set(ctx, applyCacheKey(tenantID, containerRef), desiredHash, ttl).Err()
}

// Invalidate drops the cached hash for a tenant container
func (c *RedisApplyCache) Invalidate(ctx context.Context, tenantID, containerRef string) error {
	return c.client.Del(ctx, applyCacheKey(tenantID, containerRef)).Err()
}

// Ping checks the Redis connection
func (c *RedisApplyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisApplyCache) Close() error {
	return c.client.Close()
}
