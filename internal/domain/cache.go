package domain

import (
	"context"
	"time"
)

// CacheStore defines the interface for a cache backend.
// Backends report failures; the rule cache decides how to degrade.
type CacheStore interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache types
const (
	CacheTypeNone   = "none"
	CacheTypeFile   = "file"
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "none", "file", "memory" or "redis"
	Type string `yaml:"type"`

	// Enabled turns the rule cache on. When false every lookup misses.
	Enabled bool `yaml:"enabled"`

	// File backend
	Dir string `yaml:"dir"`

	// Local LRU cache settings
	LocalMaxSize int `yaml:"local_max_size"`
	LocalTTLSecs int `yaml:"local_ttl_secs"`

	// Redis settings
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"two_phase"` // If true, check local first, then Redis
}

// LocalTTL returns the LRU entry lifetime.
func (c CacheConfig) LocalTTL() time.Duration {
	return time.Duration(c.LocalTTLSecs) * time.Second
}
