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

// SaveViolationRule stores a violation rule with tenant isolation.
func (r *SQLRepository) SaveViolationRule(ctx context.Context, tenantID string, rule *domain.ViolationRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rule == nil || rule.ID == "" || rule.CaseType == "" {
		return fmt.Errorf("%w: rule id and case type are required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)
	now := time.Now().UTC()

	version := rule.Version
	if version == "" {
		version = "1.0.0"
	}

	query := `
		INSERT INTO violation_rules (
			id, tenant_id, name, description, version, case_type, expression, bands,
			velocity_window_secs, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			case_type = excluded.case_type,
			expression = excluded.expression,
			bands = excluded.bands,
			velocity_window_secs = excluded.velocity_window_secs,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, version,
		rule.CaseType, rule.Expression, string(bands),
		rule.VelocityWindowSecs, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// ListViolationRules returns all rules for a tenant, enabled or not.
func (r *SQLRepository) ListViolationRules(ctx context.Context, tenantID string) ([]*domain.ViolationRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, case_type, expression, bands,
			   velocity_window_secs, enabled
		FROM violation_rules
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ViolationRule
	for rows.Next() {
		var rule domain.ViolationRule
		var description sql.NullString
		var bands string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &description, &rule.Version,
			&rule.CaseType, &rule.Expression, &bands,
			&rule.VelocityWindowSecs, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &rule.Bands)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveMetricsSnapshot overwrites the tenant's metrics snapshot.
func (r *SQLRepository) SaveMetricsSnapshot(ctx context.Context, tenantID string, snap *domain.MetricsSnapshot) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("%w: snapshot is required", ErrInvalidInput)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO metrics_snapshots (tenant_id, snapshot, computed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			computed_at = excluded.computed_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, string(data), snap.Timestamp.UTC())
	return err
}

// GetMetricsSnapshot returns the tenant's latest metrics snapshot.
func (r *SQLRepository) GetMetricsSnapshot(ctx context.Context, tenantID string) (*domain.MetricsSnapshot, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT snapshot FROM metrics_snapshots WHERE tenant_id = ?`), tenantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap domain.MetricsSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
