package rules

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

func enrich(tx domain.Transaction) *domain.EnrichedTransaction {
	return features.Enrich(&tx)
}

func activeRule(name, cond string, priority int) domain.Rule {
	return domain.Rule{
		Name:        name,
		Description: name + " description",
		Condition:   json.RawMessage(cond),
		Priority:    priority,
		Active:      true,
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	repo.put(activeRule("low", `{">": [{"var": "transaction_amount"}, 10]}`, 10))
	high := repo.put(activeRule("high", `{">": [{"var": "transaction_amount"}, 10]}`, 90))
	inactive := activeRule("inactive", `true`, 1000)
	inactive.Active = false
	repo.put(inactive)

	engine := NewEngine(repo, cache.NewRuleCache(nil), 0)

	matched, rule, err := engine.Evaluate(ctx, enrich(domain.Transaction{ID: "T1", Amount: 100}))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !matched || rule == nil {
		t.Fatal("expected a match")
	}
	if rule.ID != high {
		t.Errorf("expected rule %d (priority 90), got %d", high, rule.ID)
	}
}

func TestEvaluateTieBreaksByID(t *testing.T) {
	repo := newMemRepo()
	first := repo.put(activeRule("first", `true`, 50))
	repo.put(activeRule("second", `true`, 50))

	engine := NewEngine(repo, nil, 0)
	_, rule, err := engine.Evaluate(context.Background(), enrich(domain.Transaction{ID: "T1"}))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rule == nil || rule.ID != first {
		t.Errorf("expected lower id %d to win, got %+v", first, rule)
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	repo := newMemRepo()
	repo.put(activeRule("big", `{">": [{"var": "transaction_amount"}, 1000000]}`, 10))

	engine := NewEngine(repo, nil, 0)
	matched, rule, err := engine.Evaluate(context.Background(), enrich(domain.Transaction{ID: "T1", Amount: 5}))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if matched || rule != nil {
		t.Errorf("expected no match, got %+v", rule)
	}
}

func TestEvaluateSkipsBrokenRules(t *testing.T) {
	repo := newMemRepo()
	parseErr := repo.put(activeRule("unknown op", `{"regex": ["a", "b"]}`, 100))
	evalErr := repo.put(activeRule("mod zero", `{"%": [1, 0]}`, 90))
	good := repo.put(activeRule("good", `{">=": [{"var": "transaction_amount"}, 0]}`, 10))

	rec := &errRecorder{}
	engine := NewEngine(repo, nil, 0).WithRecorder(rec)
	tx := enrich(domain.Transaction{ID: "T1", Amount: 1})

	matched, rule, err := engine.Evaluate(context.Background(), tx)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !matched || rule.ID != good {
		t.Fatalf("expected rule %d to match, got %+v", good, rule)
	}

	results, err := engine.EvaluateAll(context.Background(), tx)
	if err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
	want := map[int64]domain.RuleOutcome{
		parseErr: domain.RuleOutcomeError,
		evalErr:  domain.RuleOutcomeError,
		good:     domain.RuleOutcomeMatched,
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for _, res := range results {
		if res.Outcome != want[res.RuleID] {
			t.Errorf("rule %d: outcome %s, want %s", res.RuleID, res.Outcome, want[res.RuleID])
		}
		if res.Outcome == domain.RuleOutcomeError && res.Error == "" {
			t.Errorf("rule %d: error outcome without message", res.RuleID)
		}
	}
	if rec.count() == 0 {
		t.Error("expected rule errors to be recorded")
	}
}

type errRecorder struct {
	mu  sync.Mutex
	ids []int64
}

func (r *errRecorder) RuleError(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *errRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func TestActiveRulesCaching(t *testing.T) {
	ctx := context.Background()

	t.Run("HitAvoidsStore", func(t *testing.T) {
		repo := newMemRepo()
		repo.put(activeRule("r", `true`, 1))
		rc := cache.NewRuleCache(cache.NewLRUCache(10))
		engine := NewEngine(repo, rc, time.Minute)

		for i := 0; i < 3; i++ {
			if _, err := engine.ActiveRules(ctx); err != nil {
				t.Fatalf("ActiveRules failed: %v", err)
			}
		}
		if n := repo.lists.Load(); n != 1 {
			t.Errorf("expected 1 store read, got %d", n)
		}
	})

	t.Run("EmptyListNotCached", func(t *testing.T) {
		repo := newMemRepo()
		rc := cache.NewRuleCache(cache.NewLRUCache(10))
		engine := NewEngine(repo, rc, time.Minute)

		_, _ = engine.ActiveRules(ctx)
		if _, ok := rc.Get(ctx, cache.KeyActiveRules); ok {
			t.Error("empty rule list should not be cached")
		}
	})

	t.Run("CorruptValueIsMiss", func(t *testing.T) {
		repo := newMemRepo()
		repo.put(activeRule("r", `true`, 1))
		rc := cache.NewRuleCache(cache.NewLRUCache(10))
		rc.Set(ctx, cache.KeyActiveRules, []byte("{garbage"), time.Minute)
		engine := NewEngine(repo, rc, time.Minute)

		rules, err := engine.ActiveRules(ctx)
		if err != nil {
			t.Fatalf("ActiveRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 rule from store, got %d", len(rules))
		}
	})

	t.Run("StoreErrorReturned", func(t *testing.T) {
		repo := newMemRepo()
		repo.listErr = errors.New("db down")
		engine := NewEngine(repo, nil, 0)

		_, _, err := engine.Evaluate(ctx, enrich(domain.Transaction{ID: "T1"}))
		if err == nil {
			t.Error("expected store error")
		}
	})

	t.Run("MutationInvalidates", func(t *testing.T) {
		repo := newMemRepo()
		rc := cache.NewRuleCache(cache.NewLRUCache(10))
		engine := NewEngine(repo, rc, time.Minute)
		mgr := NewManager(repo, rc, engine)

		rule := activeRule("first", `{">": [{"var": "transaction_amount"}, 100]}`, 10)
		if err := mgr.Create(ctx, &rule); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		tx := enrich(domain.Transaction{ID: "T1", Amount: 50})
		if matched, _, _ := engine.Evaluate(ctx, tx); matched {
			t.Fatal("50 should not match > 100")
		}

		rule.Condition = json.RawMessage(`{">": [{"var": "transaction_amount"}, 10]}`)
		if err := mgr.Update(ctx, &rule); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if matched, _, _ := engine.Evaluate(ctx, tx); !matched {
			t.Error("updated rule not visible after invalidation")
		}

		if err := mgr.Delete(ctx, rule.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if matched, _, _ := engine.Evaluate(ctx, tx); matched {
			t.Error("deleted rule still evaluated")
		}
	})
}

func TestCompileMemoised(t *testing.T) {
	repo := newMemRepo()
	repo.put(activeRule("a", `true`, 1))
	repo.put(activeRule("b", `false`, 2))
	engine := NewEngine(repo, nil, 0)
	tx := enrich(domain.Transaction{ID: "T1"})

	for i := 0; i < 5; i++ {
		if _, err := engine.EvaluateAll(context.Background(), tx); err != nil {
			t.Fatalf("EvaluateAll failed: %v", err)
		}
	}
	if n := engine.compiledCount(); n != 2 {
		t.Errorf("expected 2 compiled rules, got %d", n)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	repo := newMemRepo()
	repo.put(activeRule("a", `true`, 1))
	engine := NewEngine(repo, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := engine.Evaluate(ctx, enrich(domain.Transaction{ID: "T1"})); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentEvaluate(t *testing.T) {
	repo := newMemRepo()
	repo.put(activeRule("big", `{">": [{"var": "transaction_amount"}, 1000]}`, 10))
	rc := cache.NewRuleCache(cache.NewLRUCache(10))
	engine := NewEngine(repo, rc, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := float64(i * 20)
			matched, _, err := engine.Evaluate(context.Background(), enrich(domain.Transaction{ID: "T", Amount: amount}))
			if err != nil {
				t.Errorf("Evaluate failed: %v", err)
				return
			}
			if matched != (amount > 1000) {
				t.Errorf("amount %v: matched = %v", amount, matched)
			}
		}(i)
	}
	wg.Wait()
}

// flakyStore wraps an LRU and fails every call once broken is set.
type flakyStore struct {
	*cache.LRUCache
	broken atomic.Bool
}

var errCacheDown = errors.New("cache down")

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.broken.Load() {
		return nil, errCacheDown
	}
	return s.LRUCache.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.broken.Load() {
		return errCacheDown
	}
	return s.LRUCache.Set(ctx, key, value, ttl)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if s.broken.Load() {
		return errCacheDown
	}
	return s.LRUCache.Delete(ctx, key)
}

func TestEvaluateSurvivesCacheOutage(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	big := repo.put(activeRule("big", `{">": [{"var": "transaction_amount"}, 500000]}`, 100))

	store := &flakyStore{LRUCache: cache.NewLRUCache(10)}
	engine := NewEngine(repo, cache.NewRuleCache(store), time.Minute)
	tx := enrich(domain.Transaction{ID: "T1", Amount: 600000})

	if matched, rule, err := engine.Evaluate(ctx, tx); err != nil || !matched || rule.ID != big {
		t.Fatalf("before outage: matched=%v rule=%+v err=%v", matched, rule, err)
	}
	if n := repo.lists.Load(); n != 1 {
		t.Fatalf("expected 1 store read before outage, got %d", n)
	}

	store.broken.Store(true)
	for i := 0; i < 3; i++ {
		matched, rule, err := engine.Evaluate(ctx, tx)
		if err != nil || !matched || rule.ID != big {
			t.Fatalf("during outage: matched=%v rule=%+v err=%v", matched, rule, err)
		}
	}
	if n := repo.lists.Load(); n != 4 {
		t.Errorf("expected every evaluation to read the store during the outage, got %d reads", n)
	}
}
