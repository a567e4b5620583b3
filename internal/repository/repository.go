// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `id, name, description, condition_json, priority, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (domain.Rule, error) {
	var rule domain.Rule
	var description sql.NullString
	var condition string
	var active int

	if err := s.Scan(
		&rule.ID, &rule.Name, &description, &condition,
		&rule.Priority, &active, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return rule, err
	}
	rule.Description = description.String
	rule.Condition = []byte(condition)
	rule.Active = active == 1
	return rule, nil
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListActiveRules returns active rules ordered by priority desc, id asc.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]domain.Rule, error) {
	return r.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE is_active = 1
		ORDER BY priority DESC, id ASC
	`)
}

// ListRules returns every rule, active or not.
func (r *SQLRepository) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return r.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		ORDER BY priority DESC, id ASC
	`)
}

// GetRule retrieves a rule by id.
func (r *SQLRepository) GetRule(ctx context.Context, id int64) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// CountRules returns the number of stored rules.
func (r *SQLRepository) CountRules(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n)
	return n, err
}

// CreateRule inserts a rule and assigns its id and timestamps.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}

	now := r.now()
	query := `
		INSERT INTO rules (name, description, condition_json, priority, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		rule.Name, rule.Description, string(rule.Condition),
		rule.Priority, boolInt(rule.Active), now, now,
	).Scan(&id)
	if err != nil {
		return err
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// UpdateRule replaces the mutable fields of an existing rule.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID <= 0 {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := r.now()
	query := `
		UPDATE rules
		SET name = ?, description = ?, condition_json = ?, priority = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, string(rule.Condition),
		rule.Priority, boolInt(rule.Active), now, rule.ID,
	)
	if err := affected(result, err); err != nil {
		return err
	}

	rule.UpdatedAt = now
	return nil
}

// DeleteRule removes a rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE id = ?`), id)
	return affected(result, err)
}

// SaveTransaction stores a transaction if it is not already present.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			transaction_id, transaction_date, transaction_amount, transaction_channel,
			transaction_payment_mode, transaction_payment_mode_anonymous,
			payment_gateway_bank, payment_gateway_bank_anonymous,
			payer_email, payer_email_anonymous, payer_mobile, payer_mobile_anonymous,
			payer_device, payer_browser, payer_browser_anonymous, payee_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Date, tx.Amount, tx.Channel,
		tx.PaymentMode, tx.PaymentModeCode,
		tx.GatewayBank, tx.GatewayBankCode,
		tx.PayerEmail, tx.PayerEmailAnonymous, tx.PayerMobile, tx.PayerMobileAnonymous,
		tx.PayerDevice, tx.PayerBrowser, tx.PayerBrowserCode, tx.PayeeID, r.now(),
	)
	return err
}

// SaveVerdict upserts the verdict for a transaction. Reporting fields are
// left untouched.
func (r *SQLRepository) SaveVerdict(ctx context.Context, v *domain.Verdict) error {
	if v == nil || v.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}

	processedAt := v.EvaluatedAt
	if processedAt.IsZero() {
		processedAt = r.now()
	}

	var ruleID sql.NullInt64
	if v.RuleID != nil {
		ruleID = sql.NullInt64{Int64: *v.RuleID, Valid: true}
	}

	query := `
		INSERT INTO fraud_data (
			transaction_id, is_fraud_predicted, fraud_source, fraud_reason,
			fraud_score, rule_id, model_version, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			is_fraud_predicted = excluded.is_fraud_predicted,
			fraud_source = excluded.fraud_source,
			fraud_reason = excluded.fraud_reason,
			fraud_score = excluded.fraud_score,
			rule_id = excluded.rule_id,
			model_version = excluded.model_version,
			processed_at = excluded.processed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		v.TransactionID, boolInt(v.IsFraud), string(v.Source), v.Reason,
		v.Score, ruleID, v.ModelVersion, processedAt,
	)
	return err
}

// GetVerdict retrieves the stored verdict for a transaction.
func (r *SQLRepository) GetVerdict(ctx context.Context, txID string) (*domain.Verdict, error) {
	query := `
		SELECT transaction_id, is_fraud_predicted, fraud_source, fraud_reason,
			   fraud_score, rule_id, model_version, processed_at, is_fraud_reported
		FROM fraud_data
		WHERE transaction_id = ?
	`

	var v domain.Verdict
	var fraud, reported int
	var source, reason, version sql.NullString
	var ruleID sql.NullInt64

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&v.TransactionID, &fraud, &source, &reason,
		&v.Score, &ruleID, &version, &v.EvaluatedAt, &reported,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.IsFraud = fraud == 1
	v.Source = domain.VerdictSource(source.String)
	v.Reason = reason.String
	v.ModelVersion = version.String
	v.Reported = reported == 1
	if ruleID.Valid {
		id := ruleID.Int64
		v.RuleID = &id
	}
	return &v, nil
}

// ReportFraud marks an existing verdict as confirmed fraud.
func (r *SQLRepository) ReportFraud(ctx context.Context, report *domain.FraudReport) error {
	if report == nil || strings.TrimSpace(report.TransactionID) == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}

	query := `
		UPDATE fraud_data
		SET is_fraud_reported = 1, reporting_entity_id = ?, fraud_details = ?, reported_at = ?
		WHERE transaction_id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		report.Channel, report.Detail, r.now(), report.TransactionID,
	)
	return affected(result, err)
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func affected(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
