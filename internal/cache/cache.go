package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New opens the backend named by cfg.Type. It returns a nil store when
// caching is disabled or the type is "none"; RuleCache treats a nil store
// as a pass-through.
func New(cfg domain.CacheConfig) (domain.CacheStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case domain.CacheTypeNone, "":
		return nil, nil
	case domain.CacheTypeFile:
		return NewFileCache(cfg.Dir)
	case domain.CacheTypeMemory:
		return NewLRUCache(cfg.LocalMaxSize), nil
	case domain.CacheTypeRedis:
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL()), nil
	}
	return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
}

// TwoPhaseCache reads through a process-local LRU (L1) to a shared store
// (L2). L1 entries live at most l1TTL so invalidations made by other
// replicas become visible within that window.
type TwoPhaseCache struct {
	l1    *LRUCache
	l2    domain.CacheStore
	l1TTL time.Duration
}

// NewTwoPhase layers l1 over l2. A non-positive l1TTL means one minute.
func NewTwoPhase(l1 *LRUCache, l2 domain.CacheStore, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = time.Minute
	}
	return &TwoPhaseCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.l1.Get(ctx, key); val != nil {
		return val, nil
	}

	val, err := c.l2.Get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.l1.Set(ctx, key, val, c.l1TTL)
	return val, nil
}

// Set writes L2 before L1, so L1 never holds a value L2 rejected.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	l1TTL := c.l1TTL
	if ttl > 0 {
		l1TTL = min(l1TTL, ttl)
	}
	return c.l1.Set(ctx, key, value, l1TTL)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.l1.Delete(ctx, key)
	return c.l2.Delete(ctx, key)
}

// Ping only reports L2; L1 cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.l2.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache unreachable: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.l1.Close()
	return c.l2.Close()
}

// Stats reports L1 occupancy.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.l1.Stats()
}
