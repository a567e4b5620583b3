package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultRules returns the rule set installed into an empty rule store.
func DefaultRules() []domain.Rule {
	return []domain.Rule{
		{
			Name:        "Very High Value Transaction",
			Description: "Flag transactions with unusually high amounts",
			Condition:   json.RawMessage(`{">": [{"var": "transaction_amount"}, 500000]}`),
			Priority:    100,
		},
		{
			Name:        "High Value with Round Amount",
			Description: "High-value transactions with suspiciously round amounts",
			Condition: json.RawMessage(`{"and": [
				{">": [{"var": "transaction_amount"}, 100000]},
				{"==": [{"var": "is_round_amount"}, 1]}
			]}`),
			Priority: 95,
		},
		{
			Name:        "Multiple Risk Factors",
			Description: "Transactions with 3+ risk indicators",
			Condition: json.RawMessage(`{">=": [
				{"+": [
					{"?:": [{">": [{"var": "transaction_amount"}, 100000]}, 1, 0]},
					{"?:": [{"==": [{"var": "is_round_amount"}, 1]}, 1, 0]},
					{"?:": [{"==": [{"var": "is_night"}, 1]}, 1, 0]},
					{"?:": [{"==": [{"var": "is_weekend"}, 1]}, 1, 0]},
					{"?:": [{">": [{"var": "payer_browser_anonymous"}, 4000]}, 1, 0]},
					{"?:": [{"in": [{"var": "hour_of_day"}, [0, 1, 2, 3, 4, 23]]}, 1, 0]},
					{"?:": [{"==": [{"var": "has_mobile"}, 0]}, 1, 0]}
				]},
				3
			]}`),
			Priority: 92,
		},
		{
			Name:        "Late Night High Value",
			Description: "High-value transactions between midnight and 5 AM",
			Condition: json.RawMessage(`{"and": [
				{">": [{"var": "transaction_amount"}, 50000]},
				{"in": [{"var": "hour_of_day"}, [0, 1, 2, 3, 4]]}
			]}`),
			Priority: 90,
		},
		{
			Name:        "UPI Transaction without Mobile Verification",
			Description: "UPI transactions without verified mobile",
			Condition: json.RawMessage(`{"and": [
				{"==": [{"var": "transaction_payment_mode_anonymous"}, 11]},
				{"==": [{"var": "has_mobile"}, 0]}
			]}`),
			Priority: 88,
		},
		{
			Name:        "Late Night UPI Transaction",
			Description: "UPI transactions during high-risk hours",
			Condition: json.RawMessage(`{"and": [
				{"==": [{"var": "transaction_payment_mode_anonymous"}, 11]},
				{">": [{"var": "transaction_amount"}, 25000]},
				{"in": [{"var": "hour_of_day"}, [2, 3, 23]]}
			]}`),
			Priority: 86,
		},
		{
			Name:        "Weekend Large Transaction",
			Description: "Large transactions during weekends",
			Condition: json.RawMessage(`{"and": [
				{"==": [{"var": "is_weekend"}, 1]},
				{">": [{"var": "transaction_amount"}, 200000]}
			]}`),
			Priority: 85,
		},
		{
			Name:        "UPI High Value on New Device",
			Description: "High-value UPI transaction with potential device risk",
			Condition: json.RawMessage(`{"and": [
				{"==": [{"var": "transaction_payment_mode_anonymous"}, 11]},
				{">": [{"var": "transaction_amount"}, 50000]},
				{"or": [
					{">": [{"var": "payer_browser_anonymous"}, 3500]},
					{"==": [{"var": "has_mobile"}, 0]}
				]}
			]}`),
			Priority: 82,
		},
		{
			Name:        "High-Risk Browser with High Value",
			Description: "Transactions from unusual browsers with high amounts",
			Condition: json.RawMessage(`{"and": [
				{">": [{"var": "payer_browser_anonymous"}, 4000]},
				{">": [{"var": "transaction_amount"}, 20000]}
			]}`),
			Priority: 80,
		},
		{
			Name:        "High-Risk Bank Transfers",
			Description: "Transactions through high-risk gateway banks",
			Condition: json.RawMessage(`{"and": [
				{"in": [{"var": "payment_gateway_bank_anonymous"}, [31, 42, 54]]},
				{">": [{"var": "transaction_amount"}, 25000]}
			]}`),
			Priority: 78,
		},
		{
			Name:        "Unusual Payment Mode",
			Description: "Transactions using rare or risky payment modes",
			Condition: json.RawMessage(`{"and": [
				{"in": [{"var": "transaction_payment_mode_anonymous"}, [4, 5, 9]]},
				{">": [{"var": "transaction_amount"}, 10000]}
			]}`),
			Priority: 75,
		},
		{
			Name:        "Suspicious Amount Pattern",
			Description: "Amounts just below round thresholds",
			Condition: json.RawMessage(`{"and": [
				{">": [{"var": "transaction_amount"}, 5000]},
				{"or": [
					{"==": [{"%": [{"var": "transaction_amount"}, 1000]}, 999]},
					{"==": [{"%": [{"var": "transaction_amount"}, 10000]}, 9999]},
					{"==": [{"%": [{"var": "transaction_amount"}, 50000]}, 49999]}
				]}
			]}`),
			Priority: 70,
		},
	}
}

// SeedDefaults installs the default rules when the store holds no rules.
// It returns the number of rules created.
func SeedDefaults(ctx context.Context, m *Manager) (int, error) {
	count, err := m.repo.CountRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	created := 0
	for _, r := range DefaultRules() {
		rule := r
		rule.Active = true
		if err := m.Create(ctx, &rule); err != nil {
			return created, fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
		created++
	}

	slog.Info("default fraud rules initialized", "count", created)
	return created, nil
}
