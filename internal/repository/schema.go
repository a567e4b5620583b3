package repository

import "strings"

// Schema definitions for Kestrel.
// Identical for SQLite and PostgreSQL apart from the rule id column.

const idColumnToken = "{{ID_COLUMN}}"

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id {{ID_COLUMN}},
    name TEXT NOT NULL,
    description TEXT,
    condition_json TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active ON rules(is_active, priority);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    transaction_date TEXT,
    transaction_amount REAL NOT NULL,
    transaction_channel TEXT,
    transaction_payment_mode TEXT,
    transaction_payment_mode_anonymous INTEGER,
    payment_gateway_bank TEXT,
    payment_gateway_bank_anonymous INTEGER,
    payer_email TEXT,
    payer_email_anonymous TEXT,
    payer_mobile TEXT,
    payer_mobile_anonymous TEXT,
    payer_device TEXT,
    payer_browser TEXT,
    payer_browser_anonymous INTEGER,
    payee_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_payee ON transactions(payee_id);
`

const schemaFraudData = `
CREATE TABLE IF NOT EXISTS fraud_data (
    transaction_id TEXT PRIMARY KEY,
    is_fraud_predicted INTEGER NOT NULL,
    fraud_source TEXT,
    fraud_reason TEXT,
    fraud_score REAL NOT NULL,
    rule_id INTEGER,
    model_version TEXT,
    processed_at TIMESTAMP NOT NULL,
    is_fraud_reported INTEGER NOT NULL DEFAULT 0,
    reporting_entity_id TEXT,
    fraud_details TEXT,
    reported_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_fraud_data_predicted ON fraud_data(is_fraud_predicted);
`

// AllSchemas returns all schema statements for a driver, in order.
func AllSchemas(driver string) []string {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		strings.ReplaceAll(schemaRules, idColumnToken, idColumn),
		schemaTransactions,
		schemaFraudData,
	}
}
