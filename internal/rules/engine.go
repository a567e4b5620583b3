// Package rules provides the rule evaluation engine and rule management.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expr"
)

// Recorder receives per-rule evaluation errors.
type Recorder interface {
	RuleError(ruleID int64)
}

// Engine evaluates the active rule set in priority order.
type Engine struct {
	store    domain.RuleStore
	cache    *cache.RuleCache
	ttl      time.Duration
	recorder Recorder

	mu       sync.RWMutex
	compiled map[int64]*CompiledRule
}

// CompiledRule holds a parsed condition and the rule version it came from.
type CompiledRule struct {
	Rule domain.Rule
	Node expr.Node
	Err  error
}

func (c *CompiledRule) current(r *domain.Rule) bool {
	return c.Rule.UpdatedAt.Equal(r.UpdatedAt) && bytes.Equal(c.Rule.Condition, r.Condition)
}

// NewEngine creates a rule engine reading from store through rc.
// A zero ttl selects the default rule cache lifetime.
func NewEngine(store domain.RuleStore, rc *cache.RuleCache, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = cache.DefaultRuleTTL
	}
	if rc == nil {
		rc = cache.NewRuleCache(nil)
	}
	return &Engine{
		store:    store,
		cache:    rc,
		ttl:      ttl,
		compiled: make(map[int64]*CompiledRule),
	}
}

// WithRecorder attaches an error recorder.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	e.recorder = r
	return e
}

// ActiveRules returns the active rules, preferring the cache.
// A rule store failure on a cache miss is returned.
func (e *Engine) ActiveRules(ctx context.Context) ([]domain.Rule, error) {
	if data, ok := e.cache.Get(ctx, cache.KeyActiveRules); ok {
		var rules []domain.Rule
		err := json.Unmarshal(data, &rules)
		if err == nil {
			return rules, nil
		}
		slog.Warn("cached rule list is corrupt, reloading", "error", err)
	}

	rules, err := e.store.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	domain.SortRules(rules)

	if len(rules) > 0 {
		data, err := json.Marshal(rules)
		if err != nil {
			slog.Warn("failed to encode rule list for cache", "error", err)
		} else {
			e.cache.Set(ctx, cache.KeyActiveRules, data, e.ttl)
		}
	}

	return rules, nil
}

// Evaluate runs the active rules against the enriched transaction and
// returns the first rule whose condition is truthy. Rules that fail to
// parse or evaluate are skipped.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.EnrichedTransaction) (bool, *domain.Rule, error) {
	rules, err := e.ActiveRules(ctx)
	if err != nil {
		return false, nil, err
	}

	env := expr.Env(tx.Attributes())
	for i := range rules {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}
		res := e.evaluateRule(&rules[i], env, tx.ID)
		if res.Matched() {
			matched := rules[i]
			return true, &matched, nil
		}
	}

	return false, nil, nil
}

// EvaluateAll evaluates every active rule without stopping at the first
// match and returns one result per rule in evaluation order.
func (e *Engine) EvaluateAll(ctx context.Context, tx *domain.EnrichedTransaction) ([]domain.RuleResult, error) {
	rules, err := e.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	env := expr.Env(tx.Attributes())
	results := make([]domain.RuleResult, 0, len(rules))
	for i := range rules {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.evaluateRule(&rules[i], env, tx.ID))
	}
	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *domain.Rule, env expr.Env, txID string) (result domain.RuleResult) {
	start := time.Now()
	result = domain.RuleResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Priority: rule.Priority,
		Outcome:  domain.RuleOutcomeNotMatched,
	}
	defer func() {
		if r := recover(); r != nil {
			e.ruleFailed(&result, rule, txID, fmt.Errorf("panic: %v", r))
		}
		result.ProcessUs = time.Since(start).Microseconds()
	}()

	compiled := e.compile(rule)
	if compiled.Err != nil {
		e.ruleFailed(&result, rule, txID, compiled.Err)
		return result
	}

	ok, err := expr.Test(compiled.Node, env)
	if err != nil {
		e.ruleFailed(&result, rule, txID, err)
		return result
	}
	if ok {
		result.Outcome = domain.RuleOutcomeMatched
	}
	return result
}

func (e *Engine) ruleFailed(result *domain.RuleResult, rule *domain.Rule, txID string, err error) {
	slog.Error("error evaluating rule", "rule_id", rule.ID, "rule_name", rule.Name, "tx_id", txID, "error", err)
	result.Outcome = domain.RuleOutcomeError
	result.Error = err.Error()
	if e.recorder != nil {
		e.recorder.RuleError(rule.ID)
	}
}

// compile returns the parsed condition, reusing the previous parse while the
// rule is unchanged.
func (e *Engine) compile(rule *domain.Rule) *CompiledRule {
	e.mu.RLock()
	c, ok := e.compiled[rule.ID]
	e.mu.RUnlock()
	if ok && c.current(rule) {
		return c
	}

	node, err := expr.Parse(rule.Condition)
	if err != nil {
		err = fmt.Errorf("failed to parse rule %d: %w", rule.ID, err)
	}
	c = &CompiledRule{Rule: *rule, Node: node, Err: err}

	e.mu.Lock()
	e.compiled[rule.ID] = c
	e.mu.Unlock()
	return c
}

// Forget drops the parsed condition of a rule.
func (e *Engine) Forget(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiled, id)
}

// compiledCount returns the number of memoised conditions.
func (e *Engine) compiledCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// ValidateCondition parses a condition without evaluating it.
func ValidateCondition(condition json.RawMessage) error {
	_, err := expr.Parse(condition)
	return err
}
