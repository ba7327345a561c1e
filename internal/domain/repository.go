// Package domain defines the core interfaces and types for the liquidity engine.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
// Line items and runs are append-only: nothing is updated in place.
type Repository interface {
	// Line item operations
	SaveLineItems(ctx context.Context, tenantID string, items []*LineItem) error
	ListLineItems(ctx context.Context, tenantID string, submissionID string, reportingDate time.Time) ([]*LineItem, error)

	// Rule table operations
	SaveRule(ctx context.Context, tenantID string, rule *CalculationRule) error
	GetRule(ctx context.Context, tenantID string, code string) (*CalculationRule, error)
	ListRules(ctx context.Context, tenantID string) ([]*CalculationRule, error)

	// Expected figures
	SaveExpected(ctx context.Context, tenantID string, expected *ExpectedFigures) error
	GetExpected(ctx context.Context, tenantID string, submissionID string, reportingDate time.Time, ratio RatioType) (*ExpectedFigures, error)

	// Runs: the result and its breakdowns are written in one transaction.
	SaveRun(ctx context.Context, tenantID string, run *Run) error
	GetRun(ctx context.Context, tenantID string, runID string) (*ValidationResult, error)
	ListRuns(ctx context.Context, tenantID string, submissionID string, reportingDate time.Time, ratio RatioType) ([]*ValidationResult, error)
	ListBreakdowns(ctx context.Context, tenantID string, runID string) ([]ComponentBreakdown, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
