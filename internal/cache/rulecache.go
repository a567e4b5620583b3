package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Cache keys and lifetimes shared by the rule engine and rule management.
const (
	KeyActiveRules = "active_rules"
	DefaultRuleTTL = 300 * time.Second
)

// Lookup results reported to a Recorder.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Recorder receives cache lookup outcomes.
type Recorder interface {
	CacheResult(op, result string)
}

// RuleCache is the rule engine's view of the cache. Backend failures never
// reach the caller: a failed read is a miss and a failed write reports false.
// A RuleCache without a store is disabled.
type RuleCache struct {
	store    domain.CacheStore
	recorder Recorder
}

// NewRuleCache wraps store. A nil store yields a disabled cache.
func NewRuleCache(store domain.CacheStore) *RuleCache {
	return &RuleCache{store: store}
}

// WithRecorder attaches an outcome recorder.
func (c *RuleCache) WithRecorder(r Recorder) *RuleCache {
	c.recorder = r
	return c
}

// Enabled reports whether a backend is configured.
func (c *RuleCache) Enabled() bool {
	return c != nil && c.store != nil
}

// Get returns the cached value and whether it was found.
func (c *RuleCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	val, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache get failed, treating as miss", "key", key, "error", err)
		c.record("get", ResultError)
		return nil, false
	}
	if val == nil {
		c.record("get", ResultMiss)
		return nil, false
	}
	c.record("get", ResultHit)
	return val, true
}

// Set stores value under key and reports success. Disabled caches return false.
func (c *RuleCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !c.Enabled() {
		return false
	}
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("cache set failed", "key", key, "error", err)
		c.record("set", ResultError)
		return false
	}
	return true
}

// Invalidate removes key and reports success. Disabled caches have nothing
// to invalidate and return true.
func (c *RuleCache) Invalidate(ctx context.Context, key string) bool {
	if !c.Enabled() {
		return true
	}
	if err := c.store.Delete(ctx, key); err != nil {
		slog.Error("cache invalidate failed", "key", key, "error", err)
		c.record("invalidate", ResultError)
		return false
	}
	return true
}

// Ping checks the backend. A disabled cache is always healthy.
func (c *RuleCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Ping(ctx)
}

// Close releases the backend.
func (c *RuleCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Close()
}

func (c *RuleCache) record(op, result string) {
	if c.recorder != nil {
		c.recorder.CacheResult(op, result)
	}
}
