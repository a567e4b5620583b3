package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// failingStore fails every operation.
type failingStore struct{}

var errBackend = errors.New("backend down")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errBackend }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errBackend
}
func (failingStore) Delete(context.Context, string) error { return errBackend }
func (failingStore) Ping(context.Context) error           { return errBackend }
func (failingStore) Close() error                         { return nil }

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) CacheResult(op, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[op+":"+result]++
}

func TestRuleCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetGetInvalidate", func(t *testing.T) {
		rec := &countingRecorder{}
		rc := NewRuleCache(NewLRUCache(10)).WithRecorder(rec)

		if !rc.Set(ctx, KeyActiveRules, []byte("[]"), DefaultRuleTTL) {
			t.Fatal("Set returned false")
		}
		val, ok := rc.Get(ctx, KeyActiveRules)
		if !ok || string(val) != "[]" {
			t.Fatalf("Get = %q, %v", val, ok)
		}
		if !rc.Invalidate(ctx, KeyActiveRules) {
			t.Fatal("Invalidate returned false")
		}
		if _, ok := rc.Get(ctx, KeyActiveRules); ok {
			t.Error("expected miss after invalidate")
		}

		if rec.counts["get:hit"] != 1 || rec.counts["get:miss"] != 1 {
			t.Errorf("unexpected counts %v", rec.counts)
		}
	})

	t.Run("BackendErrorsDegrade", func(t *testing.T) {
		rec := &countingRecorder{}
		rc := NewRuleCache(failingStore{}).WithRecorder(rec)

		if _, ok := rc.Get(ctx, KeyActiveRules); ok {
			t.Error("failed get must be a miss")
		}
		if rc.Set(ctx, KeyActiveRules, []byte("[]"), time.Minute) {
			t.Error("failed set must report false")
		}
		if rc.Invalidate(ctx, KeyActiveRules) {
			t.Error("failed invalidate must report false")
		}
		if rec.counts["get:error"] != 1 {
			t.Errorf("expected get error recorded, got %v", rec.counts)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		rc := NewRuleCache(nil)

		if rc.Enabled() {
			t.Error("nil store should be disabled")
		}
		if rc.Set(ctx, KeyActiveRules, []byte("[]"), time.Minute) {
			t.Error("disabled Set must return false")
		}
		if _, ok := rc.Get(ctx, KeyActiveRules); ok {
			t.Error("disabled Get must miss")
		}
		if !rc.Invalidate(ctx, KeyActiveRules) {
			t.Error("disabled Invalidate must return true")
		}
		if err := rc.Ping(ctx); err != nil {
			t.Errorf("disabled Ping: %v", err)
		}
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		rc := NewRuleCache(NewLRUCache(10))
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%5 == 0 {
					rc.Invalidate(ctx, KeyActiveRules)
					return
				}
				rc.Set(ctx, KeyActiveRules, []byte("[]"), time.Minute)
				rc.Get(ctx, KeyActiveRules)
			}(i)
		}
		wg.Wait()
	})
}
