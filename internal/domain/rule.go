package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Rule is an operator-authored fraud rule. Condition holds the expression
// tree in its JSON wire form.
type Rule struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description"`
	Condition   json.RawMessage `json:"condition" validate:"required"`
	Priority    int             `json:"priority"`
	Active      bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SortRules orders rules by priority descending, then ID ascending.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// RuleOutcome is the result of evaluating a single rule.
type RuleOutcome string

// Predefined rule outcomes
const (
	RuleOutcomeMatched    RuleOutcome = "matched"
	RuleOutcomeNotMatched RuleOutcome = "not_matched"
	RuleOutcomeError      RuleOutcome = "error"
)

// RuleResult is the explicit per-rule evaluation result.
type RuleResult struct {
	RuleID    int64       `json:"rule_id"`
	RuleName  string      `json:"rule_name"`
	Priority  int         `json:"priority"`
	Outcome   RuleOutcome `json:"outcome"`
	Error     string      `json:"error,omitempty"`
	ProcessUs int64       `json:"process_us"`
}

// Matched reports whether the rule fired.
func (r RuleResult) Matched() bool {
	return r.Outcome == RuleOutcomeMatched
}
