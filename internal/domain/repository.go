// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// RuleStore is the source of truth for rules.
type RuleStore interface {
	// ListActiveRules returns active rules ordered by priority desc, ID asc.
	ListActiveRules(ctx context.Context) ([]Rule, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	RuleStore

	// Rule operations
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id int64) error
	GetRule(ctx context.Context, id int64) (*Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	CountRules(ctx context.Context) (int, error)

	// Transaction and verdict operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	SaveVerdict(ctx context.Context, v *Verdict) error
	GetVerdict(ctx context.Context, txID string) (*Verdict, error)
	ReportFraud(ctx context.Context, report *FraudReport) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
