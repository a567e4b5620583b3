package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cache, err := NewFileCache(dir)
	if err != nil {
		t.Fatalf("NewFileCache failed: %v", err)
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, KeyActiveRules, []byte(`[{"id":1}]`), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := cache.Get(ctx, KeyActiveRules)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != `[{"id":1}]` {
			t.Errorf("got %s", val)
		}
		if _, err := os.Stat(filepath.Join(dir, "active_rules.json")); err != nil {
			t.Errorf("expected entry file on disk: %v", err)
		}
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		reopened, err := NewFileCache(dir)
		if err != nil {
			t.Fatalf("NewFileCache failed: %v", err)
		}
		val, _ := reopened.Get(ctx, KeyActiveRules)
		if val == nil {
			t.Error("expected entry to survive reopen")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		now := time.Now()
		cache.now = func() time.Time { return now }
		defer func() { cache.now = time.Now }()

		_ = cache.Set(ctx, "short", []byte("v"), time.Second)
		now = now.Add(2 * time.Second)

		val, err := cache.Get(ctx, "short")
		if err != nil || val != nil {
			t.Errorf("expected expired miss, got %q, %v", val, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "short.json")); !os.IsNotExist(err) {
			t.Error("expected expired entry to be removed")
		}
	})

	t.Run("ExpiryKeepsFreshRewrite", func(t *testing.T) {
		now := time.Now()
		cache.now = func() time.Time { return now }
		defer func() { cache.now = time.Now }()

		_ = cache.Set(ctx, "rewritten", []byte("old"), time.Second)
		now = now.Add(2 * time.Second)

		// A Get that saw the old entry expire loses the lock to a Set.
		if err := cache.Set(ctx, "rewritten", []byte("new"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		cache.removeExpired(cache.path("rewritten"))

		val, err := cache.Get(ctx, "rewritten")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "new" {
			t.Errorf("expected fresh entry to survive, got %q", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "del", []byte("v"), 0)
		if err := cache.Delete(ctx, "del"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := cache.Delete(ctx, "del"); err != nil {
			t.Errorf("deleting a missing key should not fail: %v", err)
		}
	})

	t.Run("CorruptEntry", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := cache.Get(ctx, "broken"); err == nil {
			t.Error("expected error for corrupt entry")
		}
	})

	t.Run("KeyEscaping", func(t *testing.T) {
		_ = cache.Set(ctx, "../escape", []byte("v"), 0)
		if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.json")); err == nil {
			t.Error("key escaped the cache directory")
		}
		if val, _ := cache.Get(ctx, "../escape"); string(val) != "v" {
			t.Errorf("got %q", val)
		}
	})

	t.Run("NoTempFilesLeft", func(t *testing.T) {
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if filepath.Ext(e.Name()) != ".json" {
				t.Errorf("unexpected file %s", e.Name())
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}
