package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidRule is returned for rules that fail validation.
var ErrInvalidRule = errors.New("invalid rule")

// Manager performs rule CRUD. Every successful mutation invalidates the
// cached active rule list before returning.
type Manager struct {
	repo   domain.Repository
	cache  *cache.RuleCache
	engine *Engine
}

// NewManager creates a rule manager. engine may be nil.
func NewManager(repo domain.Repository, rc *cache.RuleCache, engine *Engine) *Manager {
	if rc == nil {
		rc = cache.NewRuleCache(nil)
	}
	return &Manager{repo: repo, cache: rc, engine: engine}
}

// Validate checks the rule fields and parses its condition.
func Validate(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(rule.Condition) == 0 {
		return fmt.Errorf("%w: condition is required", ErrInvalidRule)
	}
	if err := ValidateCondition(rule.Condition); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// Create validates and stores a new rule.
func (m *Manager) Create(ctx context.Context, rule *domain.Rule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	if err := m.repo.CreateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	m.invalidate(ctx, rule.ID, "create")
	return nil
}

// Update validates and replaces an existing rule.
func (m *Manager) Update(ctx context.Context, rule *domain.Rule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	if err := m.repo.UpdateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to update rule %d: %w", rule.ID, err)
	}
	m.invalidate(ctx, rule.ID, "update")
	return nil
}

// Delete removes a rule.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.repo.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	m.invalidate(ctx, id, "delete")
	return nil
}

// Get returns a single rule.
func (m *Manager) Get(ctx context.Context, id int64) (*domain.Rule, error) {
	return m.repo.GetRule(ctx, id)
}

// List returns all rules, active or not.
func (m *Manager) List(ctx context.Context) ([]domain.Rule, error) {
	return m.repo.ListRules(ctx)
}

func (m *Manager) invalidate(ctx context.Context, id int64, op string) {
	if m.engine != nil {
		m.engine.Forget(id)
	}
	if !m.cache.Invalidate(ctx, cache.KeyActiveRules) {
		slog.Error("rule cache invalidation failed, stale rules may be served until TTL expiry",
			"rule_id", id,
			"op", op,
		)
		return
	}
	slog.Info("rule changed", "rule_id", id, "op", op)
}
