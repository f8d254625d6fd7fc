package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaMCCs = `
CREATE TABLE IF NOT EXISTS mccs (
    code TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    risk_group TEXT NOT NULL,
    risk_level INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, code)
);

CREATE INDEX IF NOT EXISTS idx_mccs_group ON mccs(tenant_id, risk_group);
`

const schemaTaxRules = `
CREATE TABLE IF NOT EXISTS tax_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT,
    related_mcc_codes TEXT NOT NULL,
    amount_gt BIGINT,
    PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS tax_rule_mccs (
    tenant_id TEXT NOT NULL,
    tax_rule_id TEXT NOT NULL,
    mcc_code TEXT NOT NULL,
    PRIMARY KEY (tenant_id, tax_rule_id, mcc_code)
);

CREATE INDEX IF NOT EXISTS idx_tax_rule_mccs_code ON tax_rule_mccs(tenant_id, mcc_code);
`

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    trust_score INTEGER NOT NULL DEFAULT 50,
    country TEXT NOT NULL DEFAULT '',
    is_online INTEGER NOT NULL DEFAULT 0,
    mcc_code TEXT,
    PRIMARY KEY (tenant_id, id)
);
`

const schemaEmployees = `
CREATE TABLE IF NOT EXISTS employees (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    department TEXT NOT NULL DEFAULT '',
    spending_limit_daily BIGINT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, id)
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    employee_id TEXT,
    merchant_id TEXT,
    amount BIGINT NOT NULL,
    currency TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    risk_score INTEGER,
    scored_at TIMESTAMP,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_employee ON transactions(tenant_id, employee_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(tenant_id, merchant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_occurred ON transactions(tenant_id, occurred_at);
`

// The unique index on (tenant_id, transaction_id, case_type) is the dedup
// guard for case filing.
const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    case_type TEXT NOT NULL,
    rule_id TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    amount_recovered BIGINT NOT NULL DEFAULT 0,
    detection_reasoning TEXT NOT NULL,
    resolution TEXT,
    detected_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_cases_tx_type ON cases(tenant_id, transaction_id, case_type);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_cases_severity ON cases(tenant_id, severity);

CREATE TABLE IF NOT EXISTS case_citations (
    tenant_id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    tax_rule_id TEXT NOT NULL,
    PRIMARY KEY (tenant_id, case_id, tax_rule_id)
);
`

const schemaViolationRules = `
CREATE TABLE IF NOT EXISTS violation_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    case_type TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    velocity_window_secs INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);
`

const schemaMetricsSnapshots = `
CREATE TABLE IF NOT EXISTS metrics_snapshots (
    tenant_id TEXT PRIMARY KEY,
    snapshot TEXT NOT NULL,
    computed_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaMCCs,
		schemaTaxRules,
		schemaMerchants,
		schemaEmployees,
		schemaTransactions,
		schemaCases,
		schemaViolationRules,
		schemaMetricsSnapshots,
	}
}
