package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CreateCaseIfAbsent files a case unless one with the same
// (tenant, transaction, case type) already exists. The insert and its
// citations run in one transaction; the unique index makes the check and
// the write a single atomic step, so concurrent filers cannot duplicate.
// Returns false when the case already existed.
func (r *SQLRepository) CreateCaseIfAbsent(ctx context.Context, tenantID string, c *domain.Case) (bool, error) {
	if err := requireTenant(tenantID); err != nil {
		return false, err
	}
	if c == nil || c.ID == "" || c.TransactionID == "" || c.CaseType == "" {
		return false, fmt.Errorf("%w: case id, transaction id and case type are required", ErrInvalidInput)
	}
	if !c.Severity.Valid() {
		return false, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, c.Severity)
	}

	reasoning, err := domain.MarshalReasoning(c.Reasoning)
	if err != nil {
		return false, fmt.Errorf("failed to marshal reasoning: %w", err)
	}

	status := c.Status
	if status == "" {
		status = domain.CaseOpen
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO cases (
			id, tenant_id, transaction_id, case_type, rule_id, severity, status,
			amount_recovered, detection_reasoning, detected_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, transaction_id, case_type) DO NOTHING
	`

	res, err := tx.ExecContext(ctx, r.rebind(insert),
		c.ID, tenantID, c.TransactionID, c.CaseType, c.RuleID,
		string(c.Severity), string(status), c.AmountRecovered, reasoning,
		c.DetectedAt.UTC(), c.DetectedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert case: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	cite := `INSERT INTO case_citations (tenant_id, case_id, tax_rule_id) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	for _, ruleID := range c.CitedRules {
		if _, err := tx.ExecContext(ctx, r.rebind(cite), tenantID, c.ID, ruleID); err != nil {
			return false, fmt.Errorf("failed to cite tax rule %s: %w", ruleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	c.TenantID = tenantID
	c.Status = status
	c.UpdatedAt = c.DetectedAt
	return true, nil
}

const caseColumns = `
	id, tenant_id, transaction_id, case_type, rule_id, severity, status,
	amount_recovered, detection_reasoning, resolution, detected_at, updated_at, resolved_at
`

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var severity, status, reasoning string
	var resolution sql.NullString
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&c.ID, &c.TenantID, &c.TransactionID, &c.CaseType, &c.RuleID,
		&severity, &status, &c.AmountRecovered, &reasoning, &resolution,
		&c.DetectedAt, &c.UpdatedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}

	c.Severity = domain.Severity(severity)
	c.Status = domain.CaseStatus(status)
	if reasoning != "" {
		if err := json.Unmarshal([]byte(reasoning), &c.Reasoning); err != nil {
			return nil, fmt.Errorf("case %s: decode reasoning: %w", c.ID, err)
		}
	}
	if resolution.Valid && resolution.String != "" {
		var res domain.CaseResolution
		if err := json.Unmarshal([]byte(resolution.String), &res); err != nil {
			return nil, fmt.Errorf("case %s: decode resolution: %w", c.ID, err)
		}
		c.Resolution = &res
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

// GetCase retrieves a case with its citations.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.Case, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE tenant_id = ? AND id = ?`
	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	citations, err := r.caseCitations(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	c.CitedRules = citations
	return c, nil
}

func (r *SQLRepository) caseCitations(ctx context.Context, tenantID, caseID string) ([]string, error) {
	query := `SELECT tax_rule_id FROM case_citations WHERE tenant_id = ? AND case_id = ? ORDER BY tax_rule_id`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListCases returns cases matching the filter, newest first.
func (r *SQLRepository) ListCases(ctx context.Context, tenantID string, filter domain.CaseFilter) ([]*domain.Case, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + caseColumns + ` FROM cases WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.CaseType != "" {
		query += ` AND case_type = ?`
		args = append(args, filter.CaseType)
	}
	query += ` ORDER BY detected_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// CountCases counts cases for a transaction, optionally of one type.
func (r *SQLRepository) CountCases(ctx context.Context, tenantID string, txID string, caseType string) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM cases WHERE tenant_id = ? AND transaction_id = ?`
	args := []any{tenantID, txID}
	if caseType != "" {
		query += ` AND case_type = ?`
		args = append(args, caseType)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ApplyCaseAction moves a non-terminal case to the action's target status.
// The status guard is part of the UPDATE so two reviewers cannot both
// resolve the same case.
func (r *SQLRepository) ApplyCaseAction(ctx context.Context, tenantID string, caseID string, res domain.CaseResolution, at time.Time) (*domain.Case, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	target, err := res.Action.TargetStatus()
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(res)

	var resolvedAt sql.NullTime
	if target.Terminal() {
		resolvedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	query := `
		UPDATE cases SET status = ?, resolution = ?, updated_at = ?, resolved_at = ?
		WHERE tenant_id = ? AND id = ? AND status NOT IN (?, ?)
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(target), string(payload), at.UTC(), resolvedAt,
		tenantID, caseID, string(domain.CaseApproved), string(domain.CaseRejected),
	)
	if err != nil {
		return nil, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if n == 0 {
		existing, err := r.GetCase(ctx, tenantID, caseID)
		if err != nil {
			return nil, err
		}
		return existing, fmt.Errorf("%w: %s", domain.ErrTerminalCase, existing.Status)
	}

	return r.GetCase(ctx, tenantID, caseID)
}

// ListCaseFacts returns every case joined with transaction, employee and MCC.
func (r *SQLRepository) ListCaseFacts(ctx context.Context, tenantID string) ([]*domain.CaseFact, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT c.id, c.case_type, c.severity, c.status, c.detected_at, c.updated_at, c.resolved_at,
			   t.id, t.amount,
			   COALESCE(e.id, ''), COALESCE(e.name, ''), COALESCE(e.department, ''),
			   COALESCE(mc.code, ''), COALESCE(mc.description, ''), COALESCE(mc.risk_group, '')
		FROM cases c
		JOIN transactions t ON t.tenant_id = c.tenant_id AND t.id = c.transaction_id
		LEFT JOIN employees e ON e.tenant_id = t.tenant_id AND e.id = t.employee_id
		LEFT JOIN merchants m ON m.tenant_id = t.tenant_id AND m.id = t.merchant_id
		LEFT JOIN mccs mc ON mc.tenant_id = m.tenant_id AND mc.code = m.mcc_code
		WHERE c.tenant_id = ?
		ORDER BY c.detected_at, c.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []*domain.CaseFact
	for rows.Next() {
		var f domain.CaseFact
		var severity, status, group string
		var resolvedAt sql.NullTime
		if err := rows.Scan(
			&f.CaseID, &f.CaseType, &severity, &status, &f.DetectedAt, &f.UpdatedAt, &resolvedAt,
			&f.TransactionID, &f.Amount,
			&f.EmployeeID, &f.EmployeeName, &f.Department,
			&f.MCCCode, &f.MCCDescription, &group,
		); err != nil {
			return nil, err
		}
		f.Severity = domain.Severity(severity)
		f.Status = domain.CaseStatus(status)
		f.RiskGroup = domain.RiskGroup(group)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			f.ResolvedAt = &t
		}
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}
