// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Reference data
	SaveMCC(ctx context.Context, tenantID string, mcc *MCC) error
	GetMCC(ctx context.Context, tenantID string, code string) (*MCC, error)
	ListMCCs(ctx context.Context, tenantID string) ([]*MCC, error)
	SaveTaxRule(ctx context.Context, tenantID string, rule *TaxRule) error
	TaxRulesForMCC(ctx context.Context, tenantID string, mccCode string) ([]*TaxRule, error)

	// Merchants and employees
	SaveMerchant(ctx context.Context, tenantID string, m *Merchant) error
	GetMerchant(ctx context.Context, tenantID string, merchantID string) (*Merchant, error)
	SaveEmployee(ctx context.Context, tenantID string, e *Employee) error
	GetEmployee(ctx context.Context, tenantID string, employeeID string) (*Employee, error)
	ListEmployees(ctx context.Context, tenantID string) ([]*Employee, error)
	RecomputeEmployeeRisk(ctx context.Context, tenantID string) (int64, error)
	ListEmployeeStats(ctx context.Context, tenantID string, flagThreshold int) ([]*EmployeeStats, error)

	// Transactions
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListTransactionIDs(ctx context.Context, tenantID string) ([]string, error)
	LoadTransactionContext(ctx context.Context, tenantID string, txID string) (*TransactionContext, error)
	SetRiskScore(ctx context.Context, tenantID string, txID string, score int, scoredAt time.Time) (int, error)
	CountMerchantVisits(ctx context.Context, tenantID string, employeeID, merchantID string, from, to time.Time) (int64, error)
	ListTransactionFacts(ctx context.Context, tenantID string) ([]*TransactionFact, error)
	ListSuspiciousTransactions(ctx context.Context, tenantID string, minScore, maxTrust int) ([]*TransactionFact, error)

	// Cases
	CreateCaseIfAbsent(ctx context.Context, tenantID string, c *Case) (bool, error)
	GetCase(ctx context.Context, tenantID string, caseID string) (*Case, error)
	ListCases(ctx context.Context, tenantID string, filter CaseFilter) ([]*Case, error)
	CountCases(ctx context.Context, tenantID string, txID string, caseType string) (int, error)
	ApplyCaseAction(ctx context.Context, tenantID string, caseID string, res CaseResolution, at time.Time) (*Case, error)
	ListCaseFacts(ctx context.Context, tenantID string) ([]*CaseFact, error)

	// Violation rule configuration
	SaveViolationRule(ctx context.Context, tenantID string, rule *ViolationRule) error
	ListViolationRules(ctx context.Context, tenantID string) ([]*ViolationRule, error)

	// Metrics snapshot, one per tenant, overwritten on save
	SaveMetricsSnapshot(ctx context.Context, tenantID string, snap *MetricsSnapshot) error
	GetMetricsSnapshot(ctx context.Context, tenantID string) (*MetricsSnapshot, error)

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
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// PostgresDSN, when set, overrides the discrete fields above.
	PostgresDSN string `yaml:"postgresDSN"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
