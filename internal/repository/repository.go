// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

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
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory SQLite database must stay on its single connection.
	if cfg.Driver == "sqlite" && cfg.SQLitePath == ":memory:" {
		cfg.MaxOpenConns, cfg.ConnMaxLifetime = 0, 0
	}
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
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveMCC upserts a merchant category code.
func (r *SQLRepository) SaveMCC(ctx context.Context, tenantID string, mcc *domain.MCC) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if mcc == nil || mcc.Code == "" {
		return fmt.Errorf("%w: mcc code is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO mccs (code, tenant_id, description, risk_group, risk_level)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, code) DO UPDATE SET
			description = excluded.description,
			risk_group = excluded.risk_group,
			risk_level = excluded.risk_level
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		mcc.Code, tenantID, mcc.Description, string(mcc.RiskGroup), mcc.RiskLevel,
	)
	return err
}

// GetMCC retrieves a merchant category code.
func (r *SQLRepository) GetMCC(ctx context.Context, tenantID string, code string) (*domain.MCC, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT code, tenant_id, description, risk_group, risk_level
		FROM mccs WHERE tenant_id = ? AND code = ?
	`

	var m domain.MCC
	var group string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, code).Scan(
		&m.Code, &m.TenantID, &m.Description, &group, &m.RiskLevel,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.RiskGroup = domain.RiskGroup(group)
	return &m, nil
}

// ListMCCs returns every MCC for a tenant ordered by code.
func (r *SQLRepository) ListMCCs(ctx context.Context, tenantID string) ([]*domain.MCC, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT code, tenant_id, description, risk_group, risk_level
		FROM mccs WHERE tenant_id = ? ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mccs []*domain.MCC
	for rows.Next() {
		var m domain.MCC
		var group string
		if err := rows.Scan(&m.Code, &m.TenantID, &m.Description, &group, &m.RiskLevel); err != nil {
			return nil, err
		}
		m.RiskGroup = domain.RiskGroup(group)
		mccs = append(mccs, &m)
	}
	return mccs, rows.Err()
}

// SaveTaxRule upserts a tax rule and replaces its APPLIES_TO links.
func (r *SQLRepository) SaveTaxRule(ctx context.Context, tenantID string, rule *domain.TaxRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: tax rule id is required", ErrInvalidInput)
	}

	codes, _ := json.Marshal(rule.RelatedMCCCodes)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO tax_rules (id, tenant_id, name, category, description, related_mcc_codes, amount_gt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			description = excluded.description,
			related_mcc_codes = excluded.related_mcc_codes,
			amount_gt = excluded.amount_gt
	`
	var amountGt sql.NullInt64
	if rule.AmountGreater != nil {
		amountGt = sql.NullInt64{Int64: *rule.AmountGreater, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, r.rebind(upsert),
		rule.ID, tenantID, rule.Name, rule.Category, rule.Description, string(codes), amountGt,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM tax_rule_mccs WHERE tenant_id = ? AND tax_rule_id = ?`),
		tenantID, rule.ID,
	); err != nil {
		return err
	}

	link := `INSERT INTO tax_rule_mccs (tenant_id, tax_rule_id, mcc_code) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	for _, code := range rule.RelatedMCCCodes {
		if _, err := tx.ExecContext(ctx, r.rebind(link), tenantID, rule.ID, code); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// TaxRulesForMCC returns the tax rules that apply to an MCC code.
func (r *SQLRepository) TaxRulesForMCC(ctx context.Context, tenantID string, mccCode string) ([]*domain.TaxRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.tenant_id, t.name, t.category, t.description, t.related_mcc_codes, t.amount_gt
		FROM tax_rules t
		JOIN tax_rule_mccs l ON l.tenant_id = t.tenant_id AND l.tax_rule_id = t.id
		WHERE t.tenant_id = ? AND l.mcc_code = ?
		ORDER BY t.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, mccCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.TaxRule
	for rows.Next() {
		var t domain.TaxRule
		var description sql.NullString
		var codes string
		var amountGt sql.NullInt64
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Category, &description, &codes, &amountGt); err != nil {
			return nil, err
		}
		t.Description = description.String
		if codes != "" {
			json.Unmarshal([]byte(codes), &t.RelatedMCCCodes)
		}
		if amountGt.Valid {
			v := amountGt.Int64
			t.AmountGreater = &v
		}
		rules = append(rules, &t)
	}
	return rules, rows.Err()
}

// SaveMerchant upserts a merchant.
func (r *SQLRepository) SaveMerchant(ctx context.Context, tenantID string, m *domain.Merchant) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: merchant id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO merchants (id, tenant_id, name, trust_score, country, is_online, mcc_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			trust_score = excluded.trust_score,
			country = excluded.country,
			is_online = excluded.is_online,
			mcc_code = excluded.mcc_code
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.ID, tenantID, m.Name, m.TrustScore, m.Country, boolToInt(m.IsOnline), nullString(m.MCCCode),
	)
	return err
}

// GetMerchant retrieves a merchant.
func (r *SQLRepository) GetMerchant(ctx context.Context, tenantID string, merchantID string) (*domain.Merchant, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, trust_score, country, is_online, mcc_code
		FROM merchants WHERE tenant_id = ? AND id = ?
	`

	var m domain.Merchant
	var online int
	var mcc sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, merchantID).Scan(
		&m.ID, &m.TenantID, &m.Name, &m.TrustScore, &m.Country, &online, &mcc,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.IsOnline = online == 1
	m.MCCCode = mcc.String
	return &m, nil
}

// SaveEmployee upserts an employee. The stored risk score is left untouched;
// it is owned by RecomputeEmployeeRisk.
func (r *SQLRepository) SaveEmployee(ctx context.Context, tenantID string, e *domain.Employee) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if e == nil || e.ID == "" {
		return fmt.Errorf("%w: employee id is required", ErrInvalidInput)
	}
	if e.SpendingLimitDaily <= 0 {
		return fmt.Errorf("%w: spending limit must be positive", ErrInvalidInput)
	}

	query := `
		INSERT INTO employees (id, tenant_id, name, department, spending_limit_daily)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			department = excluded.department,
			spending_limit_daily = excluded.spending_limit_daily
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, tenantID, e.Name, e.Department, e.SpendingLimitDaily,
	)
	return err
}

// GetEmployee retrieves an employee.
func (r *SQLRepository) GetEmployee(ctx context.Context, tenantID string, employeeID string) (*domain.Employee, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, department, spending_limit_daily, risk_score
		FROM employees WHERE tenant_id = ? AND id = ?
	`

	var e domain.Employee
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, employeeID).Scan(
		&e.ID, &e.TenantID, &e.Name, &e.Department, &e.SpendingLimitDaily, &e.RiskScore,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEmployees returns all employees for a tenant.
func (r *SQLRepository) ListEmployees(ctx context.Context, tenantID string) ([]*domain.Employee, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, department, spending_limit_daily, risk_score
		FROM employees WHERE tenant_id = ? ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []*domain.Employee
	for rows.Next() {
		var e domain.Employee
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &e.Department, &e.SpendingLimitDaily, &e.RiskScore); err != nil {
			return nil, err
		}
		employees = append(employees, &e)
	}
	return employees, rows.Err()
}

// RecomputeEmployeeRisk sets every employee's risk score to the mean of
// their scored transactions divided by 100, or 0 when none are scored.
// Returns the number of employees updated.
func (r *SQLRepository) RecomputeEmployeeRisk(ctx context.Context, tenantID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `
		UPDATE employees SET risk_score = COALESCE((
			SELECT AVG(t.risk_score) / 100.0
			FROM transactions t
			WHERE t.tenant_id = employees.tenant_id
			  AND t.employee_id = employees.id
			  AND t.risk_score IS NOT NULL
		), 0)
		WHERE tenant_id = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return 0, fmt.Errorf("recompute employee risk: %w", err)
	}
	return res.RowsAffected()
}

// ListEmployeeStats returns per-employee spend and risk aggregates, highest
// average risk first. A transaction counts as flagged at or above
// flagThreshold.
func (r *SQLRepository) ListEmployeeStats(ctx context.Context, tenantID string, flagThreshold int) ([]*domain.EmployeeStats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT e.id, e.name, e.department, e.risk_score,
			   COUNT(t.id),
			   COALESCE(SUM(CASE WHEN t.risk_score >= ? THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(t.amount), 0),
			   COALESCE(AVG(t.risk_score), 0) AS avg_risk,
			   COALESCE(MAX(t.risk_score), 0),
			   (SELECT COUNT(*)
				FROM cases c
				JOIN transactions ct ON ct.tenant_id = c.tenant_id AND ct.id = c.transaction_id
				WHERE c.tenant_id = e.tenant_id AND ct.employee_id = e.id)
		FROM employees e
		LEFT JOIN transactions t ON t.tenant_id = e.tenant_id AND t.employee_id = e.id
		WHERE e.tenant_id = ?
		GROUP BY e.tenant_id, e.id, e.name, e.department, e.risk_score
		ORDER BY avg_risk DESC, e.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), flagThreshold, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list employee stats: %w", err)
	}
	defer rows.Close()

	var stats []*domain.EmployeeStats
	for rows.Next() {
		var s domain.EmployeeStats
		if err := rows.Scan(
			&s.EmployeeID, &s.Name, &s.Department, &s.RiskScore,
			&s.TransactionCount, &s.FlaggedCount, &s.TotalSpending,
			&s.AvgRiskScore, &s.MaxRiskScore, &s.CaseCount,
		); err != nil {
			return nil, err
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database handle.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ domain.Repository = (*SQLRepository)(nil)
