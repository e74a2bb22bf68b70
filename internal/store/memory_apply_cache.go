package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryApplyCache implements ApplyCache using an in-memory map
type MemoryApplyCache struct {
	mu     sync.RWMutex
	data   map[string]*cacheEntry
	logger *zap.Logger
}

type cacheEntry struct {
	hash      string
	expiresAt time.Time
}

// NewMemoryApplyCache creates a new in-memory apply cache
func NewMemoryApplyCache(logger *zap.Logger) ApplyCache {
	cache := &MemoryApplyCache{
		data:   make(map[string]*cacheEntry),
		logger: logger,
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// Get retrieves the last converged desired set hash for a tenant container
func (c *MemoryApplyCache) Get(ctx context.Context, tenantID, containerRef string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[applyCacheKey(tenantID, containerRef)]
	if !exists {
		return "", ErrNotFound
	}

	// Check if expired
	if time.Now().After(entry.expiresAt) {
		return "", ErrNotFound
	}

	return entry.hash, nil
}

// Set records the desired set hash that converged for a tenant container
func (c *MemoryApplyCache) Set(ctx context.Context, tenantID, containerRef, desiredHash string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[applyCacheKey(tenantID, containerRef)] = &cacheEntry{
		hash:      desiredHash,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Invalidate drops the cached hash for a tenant container
func (c *MemoryApplyCache) Invalidate(ctx context.Context, tenantID, containerRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, applyCacheKey(tenantID, containerRef))
	return nil
}

// cleanup periodically removes expired entries
func (c *MemoryApplyCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, entry := range c.data {
			if now.After(entry.expiresAt) {
				delete(c.data, key)
			}
		}
		c.mu.Unlock()
	}
}

// Ping always succeeds for the in-memory cache
func (c *MemoryApplyCache) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory cache
func (c *MemoryApplyCache) Close() error {
	return nil
}
