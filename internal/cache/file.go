package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileCache is a persistent cache that stores one JSON document per key.
// Entries survive restarts. Writes go through a temp file and a rename so
// readers never observe a partially written entry.
type FileCache struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

type fileEntry struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		dir = "./cache"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileCache{dir: dir, now: time.Now}, nil
}

// Get reads a key. Missing or expired keys return nil, nil.
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	path := c.path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	if c.expired(entry) {
		c.removeExpired(path)
		return nil, nil
	}
	return entry.Value, nil
}

func decodeEntry(data []byte) (fileEntry, error) {
	var entry fileEntry
	err := json.Unmarshal(data, &entry)
	return entry, err
}

func (c *FileCache) expired(entry fileEntry) bool {
	return entry.ExpiresAt != nil && c.now().After(*entry.ExpiresAt)
}

// removeExpired deletes path only if the entry on disk is still expired.
// A Set may have replaced it since the caller read it.
func (c *FileCache) removeExpired(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	entry, err := decodeEntry(data)
	if err == nil && !c.expired(entry) {
		return
	}
	_ = os.Remove(path)
}

// Set writes a key atomically. A non-positive TTL never expires.
func (c *FileCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := fileEntry{Value: value}
	if ttl > 0 {
		exp := c.now().Add(ttl).UTC()
		entry.ExpiresAt = &exp
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (c *FileCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Ping verifies the cache directory is still present.
func (c *FileCache) Ping(ctx context.Context) error {
	info, err := os.Stat(c.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("cache path %s is not a directory", c.dir)
	}
	return nil
}

// Close is a no-op; entries stay on disk.
func (c *FileCache) Close() error {
	return nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, url.PathEscape(key)+".json")
}
