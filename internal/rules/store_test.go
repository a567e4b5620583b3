package rules

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var errNotFound = errors.New("not found")

// memRepo is an in-memory domain.Repository for tests.
type memRepo struct {
	mu      sync.Mutex
	rules   map[int64]domain.Rule
	nextID  int64
	lists   atomic.Int32
	listErr error
}

func newMemRepo() *memRepo {
	return &memRepo{rules: make(map[int64]domain.Rule)}
}

// put stores a rule without validation.
func (r *memRepo) put(rule domain.Rule) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rule.ID = r.nextID
	rule.UpdatedAt = time.Now()
	r.rules[rule.ID] = rule
	return rule.ID
}

func (r *memRepo) ListActiveRules(ctx context.Context) ([]domain.Rule, error) {
	r.lists.Add(1)
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Rule
	for _, rule := range r.rules {
		if rule.Active {
			out = append(out, rule)
		}
	}
	domain.SortRules(out)
	return out, nil
}

func (r *memRepo) CreateRule(ctx context.Context, rule *domain.Rule) error {
	rule.ID = r.put(*rule)
	return nil
}

func (r *memRepo) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; !ok {
		return errNotFound
	}
	rule.UpdatedAt = time.Now()
	r.rules[rule.ID] = *rule
	return nil
}

func (r *memRepo) DeleteRule(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return errNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *memRepo) GetRule(ctx context.Context, id int64) (*domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, errNotFound
	}
	return &rule, nil
}

func (r *memRepo) ListRules(ctx context.Context) ([]domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	domain.SortRules(out)
	return out, nil
}

func (r *memRepo) CountRules(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules), nil
}

func (r *memRepo) SaveTransaction(context.Context, *domain.Transaction) error { return nil }
func (r *memRepo) SaveVerdict(context.Context, *domain.Verdict) error         { return nil }
func (r *memRepo) GetVerdict(context.Context, string) (*domain.Verdict, error) {
	return nil, errNotFound
}
func (r *memRepo) ReportFraud(context.Context, *domain.FraudReport) error { return nil }
func (r *memRepo) Ping(context.Context) error                            { return nil }
func (r *memRepo) Close() error                                          { return nil }
