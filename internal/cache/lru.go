// Package cache provides the rule cache and its storage backends.
package cache

import (
	"context"
	"sync"
	"time"
)

const defaultLRUSize = 10000

// LRUCache is an in-process byte cache bounded by entry count. Entries may
// carry a TTL; expired entries are dropped lazily on read. It backs the
// "memory" cache type and the L1 tier of TwoPhaseCache.
type LRUCache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*lruNode
	head    lruNode // sentinel; head.next is most recent
	now     func() time.Time
}

type lruNode struct {
	prev, next *lruNode
	key        string
	value      []byte
	deadline   time.Time
}

// NewLRUCache returns a cache holding at most limit entries.
func NewLRUCache(limit int) *LRUCache {
	if limit <= 0 {
		limit = defaultLRUSize
	}
	c := &LRUCache{limit: limit, now: time.Now}
	c.reset()
	return c
}

func (c *LRUCache) reset() {
	c.entries = make(map[string]*lruNode)
	c.head.prev, c.head.next = &c.head, &c.head
}

// Get returns the stored bytes or nil on a miss.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !n.deadline.IsZero() && c.now().After(n.deadline) {
		c.drop(n)
		return nil, nil
	}
	c.promote(n)
	return n.value, nil
}

// Set stores value under key. ttl <= 0 keeps the entry until evicted.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var deadline time.Time
	if ttl > 0 {
		deadline = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		n.value, n.deadline = value, deadline
		c.promote(n)
		return nil
	}

	n := &lruNode{key: key, value: value, deadline: deadline}
	c.entries[key] = n
	c.link(n)

	for len(c.entries) > c.limit {
		c.drop(c.head.prev)
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[key]; ok {
		c.drop(n)
	}
	return nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error { return nil }

// Close discards every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	return nil
}

// Stats reports the current entry count and the configured limit.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.limit
}

func (c *LRUCache) link(n *lruNode) {
	n.prev, n.next = &c.head, c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *LRUCache) unlink(n *lruNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (c *LRUCache) promote(n *lruNode) {
	if c.head.next == n {
		return
	}
	c.unlink(n)
	c.link(n)
}

func (c *LRUCache) drop(n *lruNode) {
	c.unlink(n)
	delete(c.entries, n.key)
}
