package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveTransaction stores a transaction with tenant isolation.
// Re-saving an existing id updates its attributes but keeps its score.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	status := tx.Status
	if status == "" {
		status = domain.TransactionCompleted
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, employee_id, merchant_id, amount, currency,
			status, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			employee_id = excluded.employee_id,
			merchant_id = excluded.merchant_id,
			amount = excluded.amount,
			currency = excluded.currency,
			status = excluded.status,
			occurred_at = excluded.occurred_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID,
		nullString(tx.EmployeeID), nullString(tx.MerchantID),
		tx.Amount, tx.Currency, string(status),
		tx.OccurredAt.UTC(), createdAt.UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, employee_id, merchant_id, amount, currency,
			   status, occurred_at, created_at, risk_score, scored_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var employeeID, merchantID sql.NullString
	var status string
	var score sql.NullInt64
	var scoredAt sql.NullTime

	err := row.Scan(
		&tx.ID, &tx.TenantID, &employeeID, &merchantID,
		&tx.Amount, &tx.Currency, &status,
		&tx.OccurredAt, &tx.CreatedAt, &score, &scoredAt,
	)
	if err != nil {
		return nil, err
	}

	tx.EmployeeID = employeeID.String
	tx.MerchantID = merchantID.String
	tx.Status = domain.TransactionStatus(status)
	if score.Valid {
		s := int(score.Int64)
		tx.RiskScore = &s
	}
	if scoredAt.Valid {
		t := scoredAt.Time
		tx.ScoredAt = &t
	}
	return &tx, nil
}

// ListTransactionIDs returns every transaction id for a tenant.
func (r *SQLRepository) ListTransactionIDs(ctx context.Context, tenantID string) ([]string, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT id FROM transactions WHERE tenant_id = ? ORDER BY id`), tenantID)
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

// LoadTransactionContext joins a transaction with its employee, merchant and
// MCC. Missing links are left nil; ErrNotFound is returned only when the
// transaction itself does not exist.
func (r *SQLRepository) LoadTransactionContext(ctx context.Context, tenantID string, txID string) (*domain.TransactionContext, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.tenant_id, t.employee_id, t.merchant_id, t.amount, t.currency,
			   t.status, t.occurred_at, t.created_at, t.risk_score, t.scored_at,
			   e.id, e.name, e.department, e.spending_limit_daily, e.risk_score,
			   m.id, m.name, m.trust_score, m.country, m.is_online, m.mcc_code,
			   c.code, c.description, c.risk_group, c.risk_level
		FROM transactions t
		LEFT JOIN employees e ON e.tenant_id = t.tenant_id AND e.id = t.employee_id
		LEFT JOIN merchants m ON m.tenant_id = t.tenant_id AND m.id = t.merchant_id
		LEFT JOIN mccs c ON c.tenant_id = m.tenant_id AND c.code = m.mcc_code
		WHERE t.tenant_id = ? AND t.id = ?
	`

	var (
		tx                                 domain.Transaction
		txEmployee, txMerchant             sql.NullString
		status                             string
		score                              sql.NullInt64
		scoredAt                           sql.NullTime
		empID, empName, empDept            sql.NullString
		empLimit                           sql.NullInt64
		empRisk                            sql.NullFloat64
		merID, merName, merCountry, merMCC sql.NullString
		merTrust, merOnline                sql.NullInt64
		mccCode, mccDesc, mccGroup         sql.NullString
		mccLevel                           sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &txEmployee, &txMerchant, &tx.Amount, &tx.Currency,
		&status, &tx.OccurredAt, &tx.CreatedAt, &score, &scoredAt,
		&empID, &empName, &empDept, &empLimit, &empRisk,
		&merID, &merName, &merTrust, &merCountry, &merOnline, &merMCC,
		&mccCode, &mccDesc, &mccGroup, &mccLevel,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.EmployeeID = txEmployee.String
	tx.MerchantID = txMerchant.String
	tx.Status = domain.TransactionStatus(status)
	if score.Valid {
		s := int(score.Int64)
		tx.RiskScore = &s
	}
	if scoredAt.Valid {
		t := scoredAt.Time
		tx.ScoredAt = &t
	}

	tc := &domain.TransactionContext{Transaction: &tx}
	if empID.Valid {
		tc.Employee = &domain.Employee{
			ID:                 empID.String,
			TenantID:           tenantID,
			Name:               empName.String,
			Department:         empDept.String,
			SpendingLimitDaily: empLimit.Int64,
			RiskScore:          empRisk.Float64,
		}
	}
	if merID.Valid {
		tc.Merchant = &domain.Merchant{
			ID:         merID.String,
			TenantID:   tenantID,
			Name:       merName.String,
			TrustScore: int(merTrust.Int64),
			Country:    merCountry.String,
			IsOnline:   merOnline.Int64 == 1,
			MCCCode:    merMCC.String,
		}
	}
	if mccCode.Valid {
		tc.MCC = &domain.MCC{
			Code:        mccCode.String,
			TenantID:    tenantID,
			Description: mccDesc.String,
			RiskGroup:   domain.RiskGroup(mccGroup.String),
			RiskLevel:   int(mccLevel.Int64),
		}
	}
	return tc, nil
}

// SetRiskScore writes a transaction's score in a single statement and
// returns the stored value.
func (r *SQLRepository) SetRiskScore(ctx context.Context, tenantID string, txID string, score int, scoredAt time.Time) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	if score < 0 || score > 100 {
		return 0, fmt.Errorf("%w: score %d out of range", ErrInvalidInput, score)
	}

	query := `UPDATE transactions SET risk_score = ?, scored_at = ? WHERE tenant_id = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), score, scoredAt.UTC(), tenantID, txID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return score, nil
}

// CountMerchantVisits counts an employee's transactions at one merchant with
// occurred_at in [from, to].
func (r *SQLRepository) CountMerchantVisits(ctx context.Context, tenantID string, employeeID, merchantID string, from, to time.Time) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `
		SELECT occurred_at FROM transactions
		WHERE tenant_id = ? AND employee_id = ? AND merchant_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, employeeID, merchantID)
	if err != nil {
		return 0, fmt.Errorf("failed to count merchant visits: %w", err)
	}
	defer rows.Close()

	// The window is applied in Go so the comparison does not depend on how
	// each driver serializes timestamps.
	var count int64
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return 0, err
		}
		if !at.Before(from) && !at.After(to) {
			count++
		}
	}
	return count, rows.Err()
}

const factSelect = `
	SELECT t.id, t.amount, t.occurred_at, t.risk_score,
		   COALESCE(t.employee_id, ''), COALESCE(t.merchant_id, ''),
		   COALESCE(m.trust_score, 0), COALESCE(m.name, ''),
		   COALESCE(c.code, ''), COALESCE(c.risk_group, '')
	FROM transactions t
	LEFT JOIN merchants m ON m.tenant_id = t.tenant_id AND m.id = t.merchant_id
	LEFT JOIN mccs c ON c.tenant_id = m.tenant_id AND c.code = m.mcc_code
`

// ListTransactionFacts returns a flattened row per transaction.
func (r *SQLRepository) ListTransactionFacts(ctx context.Context, tenantID string) ([]*domain.TransactionFact, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return r.queryFacts(ctx, factSelect+` WHERE t.tenant_id = ? ORDER BY t.occurred_at, t.id`, tenantID)
}

// ListSuspiciousTransactions returns scored transactions at or above minScore
// on HIGH_RISK or BLACK merchants whose trust score is below maxTrust.
func (r *SQLRepository) ListSuspiciousTransactions(ctx context.Context, tenantID string, minScore, maxTrust int) ([]*domain.TransactionFact, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	query := factSelect + `
		WHERE t.tenant_id = ?
		  AND t.risk_score >= ?
		  AND c.risk_group IN ('HIGH_RISK', 'BLACK')
		  AND m.trust_score < ?
		ORDER BY t.risk_score DESC, t.amount DESC
	`
	return r.queryFacts(ctx, query, tenantID, minScore, maxTrust)
}

func (r *SQLRepository) queryFacts(ctx context.Context, query string, args ...any) ([]*domain.TransactionFact, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []*domain.TransactionFact
	for rows.Next() {
		var f domain.TransactionFact
		var score sql.NullInt64
		var group string
		if err := rows.Scan(
			&f.ID, &f.Amount, &f.OccurredAt, &score,
			&f.EmployeeID, &f.MerchantID,
			&f.TrustScore, &f.MerchantName,
			&f.MCCCode, &group,
		); err != nil {
			return nil, err
		}
		if score.Valid {
			s := int(score.Int64)
			f.RiskScore = &s
		}
		f.RiskGroup = domain.RiskGroup(group)
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}
