package repository

// Schema definitions for the liquidity database.
// Compatible with both SQLite and PostgreSQL.
// Line items, expected figures, runs and breakdowns are append-only.

const schemaLineItems = `
CREATE TABLE IF NOT EXISTS line_items (
    tenant_id TEXT NOT NULL,
    submission_id TEXT NOT NULL,
    reporting_date TEXT NOT NULL,
    id TEXT NOT NULL,
    side TEXT NOT NULL,
    family TEXT NOT NULL DEFAULT '',
    product_category TEXT NOT NULL DEFAULT '',
    sub_product TEXT NOT NULL DEFAULT '',
    counterparty_type TEXT NOT NULL DEFAULT '',
    maturity_bucket TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT '',
    outstanding_balance REAL NOT NULL,
    is_hqla INTEGER NOT NULL DEFAULT 0,
    hqla_level TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, submission_id, reporting_date, id)
);

CREATE INDEX IF NOT EXISTS idx_line_items_submission ON line_items(tenant_id, submission_id, reporting_date);
`

const schemaCalculationRules = `
CREATE TABLE IF NOT EXISTS calculation_rules (
    tenant_id TEXT NOT NULL,
    code TEXT NOT NULL,
    version TEXT NOT NULL,
    family TEXT NOT NULL,
    category TEXT NOT NULL,
    body TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, code)
);

CREATE INDEX IF NOT EXISTS idx_calculation_rules_family ON calculation_rules(tenant_id, family);
`

const schemaExpectedFigures = `
CREATE TABLE IF NOT EXISTS expected_figures (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    submission_id TEXT NOT NULL,
    reporting_date TEXT NOT NULL,
    ratio TEXT NOT NULL,
    figures TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expected_figures_key ON expected_figures(tenant_id, submission_id, reporting_date, ratio);
`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    submission_id TEXT NOT NULL,
    reporting_date TEXT NOT NULL,
    ratio TEXT NOT NULL,
    status TEXT NOT NULL,
    reason_code TEXT NOT NULL DEFAULT '',
    ratio_value REAL,
    compliant INTEGER NOT NULL DEFAULT 0,
    supersedes TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_key ON runs(tenant_id, submission_id, reporting_date, ratio);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(tenant_id, created_at);
`

const schemaComponentBreakdowns = `
CREATE TABLE IF NOT EXISTS component_breakdowns (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    submission_id TEXT NOT NULL,
    reporting_date TEXT NOT NULL,
    family TEXT NOT NULL,
    category TEXT NOT NULL,
    sub_type TEXT NOT NULL DEFAULT '',
    rule_code TEXT NOT NULL,
    total_amount REAL NOT NULL,
    adjusted_amount REAL NOT NULL,
    factor REAL NOT NULL,
    calculated_amount REAL NOT NULL,
    record_count INTEGER NOT NULL,
    line_item_ids TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_component_breakdowns_tenant ON component_breakdowns(tenant_id, run_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLineItems,
		schemaCalculationRules,
		schemaExpectedFigures,
		schemaRuns,
		schemaComponentBreakdowns,
	}
}
