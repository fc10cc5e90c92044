package repository

import "fmt"

// Schema definitions for the Kestrel database.
//
// SQLite and PostgreSQL accept TEXT columns in composite primary keys and
// support CREATE INDEX IF NOT EXISTS. MySQL rejects both (a TEXT key needs a
// prefix length, and IF NOT EXISTS is not valid on CREATE INDEX), so keyed
// and indexed string columns are rendered as bounded VARCHARs there and the
// indexes are declared inline in the table body.
//
// Monetary columns are stored as decimal strings, never floats, so values
// round-trip exactly.

const (
	keyTypeDefault = "TEXT"
	keyTypeMySQL   = "VARCHAR(64)"
)

type schemaIndex struct {
	name    string
	columns string
}

// body uses %[1]s for string columns that appear in a primary key or index.
type schemaTable struct {
	name    string
	body    string
	indexes []schemaIndex
}

var schemaTables = []schemaTable{
	{
		name: "customers",
		body: `    id %[1]s NOT NULL,
    tenant_id %[1]s NOT NULL,
    tenure_months INTEGER NOT NULL,
    contract TEXT NOT NULL,
    monthly_charge TEXT NOT NULL,
    total_revenue TEXT NOT NULL,
    total_refunds TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    referrals INTEGER NOT NULL,
    services INTEGER NOT NULL,
    premium_support INTEGER NOT NULL,
    age INTEGER NOT NULL,
    gender TEXT NOT NULL,
    married INTEGER NOT NULL,
    state %[1]s NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)`,
		indexes: []schemaIndex{
			{name: "idx_customers_tenant", columns: "tenant_id"},
			{name: "idx_customers_state", columns: "tenant_id, state"},
		},
	},
	{
		name: "factor_rules",
		body: `    id %[1]s NOT NULL,
    tenant_id %[1]s NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    rule_order INTEGER NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)`,
		indexes: []schemaIndex{
			{name: "idx_factor_rules_tenant", columns: "tenant_id"},
			{name: "idx_factor_rules_enabled", columns: "tenant_id, enabled"},
		},
	},
	{
		name: "tier_bands",
		body: `    tenant_id %[1]s NOT NULL,
    tier %[1]s NOT NULL,
    lower_bound REAL NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, tier)`,
	},
	{
		name: "score_runs",
		body: `    id %[1]s NOT NULL,
    tenant_id %[1]s NOT NULL,
    received INTEGER NOT NULL,
    scored INTEGER NOT NULL,
    rejected INTEGER NOT NULL,
    rejections TEXT,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    engine_version TEXT NOT NULL,
    PRIMARY KEY (id, tenant_id)`,
		indexes: []schemaIndex{
			{name: "idx_score_runs_tenant", columns: "tenant_id"},
		},
	},
	{
		name: "scored_customers",
		body: `    run_id %[1]s NOT NULL,
    tenant_id %[1]s NOT NULL,
    customer_id %[1]s NOT NULL,
    probability REAL NOT NULL,
    tier %[1]s NOT NULL,
    payload TEXT NOT NULL,
    scored_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, tenant_id, customer_id)`,
		indexes: []schemaIndex{
			{name: "idx_scored_customers_run", columns: "tenant_id, run_id"},
			{name: "idx_scored_customers_tier", columns: "tenant_id, run_id, tier"},
		},
	},
	{
		name: "reports",
		body: `    run_id %[1]s NOT NULL,
    tenant_id %[1]s NOT NULL,
    input_digest %[1]s NOT NULL,
    payload TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, tenant_id)`,
		indexes: []schemaIndex{
			{name: "idx_reports_digest", columns: "tenant_id, input_digest"},
		},
	},
}

// Schemas renders the DDL for the given driver, one statement per entry.
func Schemas(driver string) []string {
	keyType := keyTypeDefault
	if driver == "mysql" {
		keyType = keyTypeMySQL
	}

	var stmts []string
	for _, t := range schemaTables {
		body := fmt.Sprintf(t.body, keyType)

		if driver == "mysql" {
			for _, ix := range t.indexes {
				body += fmt.Sprintf(",\n    INDEX %s (%s)", ix.name, ix.columns)
			}
			stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.name, body))
			continue
		}

		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.name, body))
		for _, ix := range t.indexes {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", ix.name, t.name, ix.columns))
		}
	}
	return stmts
}
