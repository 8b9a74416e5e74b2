package repository

// Schema definitions for the compliance engine.
// Compatible with both SQLite and PostgreSQL.

const schemaTriggerRules = `
CREATE TABLE IF NOT EXISTS trigger_rules (
    id BIGINT PRIMARY KEY,
    report_type TEXT NOT NULL,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    branch_id TEXT,
    expression TEXT NOT NULL,
    allow_continue INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trigger_rules_family ON trigger_rules(report_type, is_active);
CREATE INDEX IF NOT EXISTS idx_trigger_rules_branch ON trigger_rules(branch_id);
`

const schemaExchangeTransactions = `
CREATE TABLE IF NOT EXISTS exchange_transactions (
    id TEXT PRIMARY KEY,
    branch_id TEXT NOT NULL,
    seqno BIGINT NOT NULL DEFAULT 0,
    customer_id TEXT NOT NULL,
    customer_country TEXT,
    customer_age INTEGER,
    currency TEXT NOT NULL,
    direction TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    exchange_type TEXT NOT NULL,
    use_fcd INTEGER NOT NULL DEFAULT 0,
    amount_foreign TEXT NOT NULL,
    rate TEXT NOT NULL,
    amount_local TEXT NOT NULL,
    status TEXT NOT NULL,
    bot_flag INTEGER NOT NULL DEFAULT 0,
    fcd_flag INTEGER NOT NULL DEFAULT 0,
    amlo_flag INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchange_tx_customer ON exchange_transactions(customer_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_exchange_tx_branch ON exchange_transactions(branch_id, created_at);
`

const schemaExchangeRates = `
CREATE TABLE IF NOT EXISTS exchange_rates (
    branch_id TEXT NOT NULL,
    currency TEXT NOT NULL,
    rate_date TEXT NOT NULL,
    buy TEXT NOT NULL,
    sell TEXT NOT NULL,
    PRIMARY KEY (branch_id, currency, rate_date)
);
`

const schemaBranches = `
CREATE TABLE IF NOT EXISTS branches (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    name TEXT NOT NULL
);
`

const schemaReservedTransactions = `
CREATE TABLE IF NOT EXISTS reserved_transactions (
    id TEXT PRIMARY KEY,
    reservation_no TEXT NOT NULL UNIQUE,
    report_type TEXT NOT NULL,
    branch_id TEXT NOT NULL,
    operator_id TEXT NOT NULL,
    customer_ref TEXT NOT NULL,
    form_data TEXT NOT NULL,
    direction TEXT NOT NULL,
    amount TEXT NOT NULL,
    local_amount TEXT NOT NULL,
    status TEXT NOT NULL,
    audit_note TEXT,
    rejection_reason TEXT,
    signatures TEXT,
    signature_times TEXT,
    transaction_ref TEXT,
    created_at TIMESTAMP NOT NULL,
    audited_at TIMESTAMP,
    audited_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_reserved_tx_customer ON reserved_transactions(customer_ref, report_type, status);
CREATE INDEX IF NOT EXISTS idx_reserved_tx_branch ON reserved_transactions(branch_id, status, created_at);
`

const schemaAMLOReports = `
CREATE TABLE IF NOT EXISTS amlo_reports (
    id TEXT PRIMARY KEY,
    report_no TEXT NOT NULL UNIQUE,
    reservation_id TEXT,
    report_type TEXT NOT NULL,
    branch_id TEXT NOT NULL,
    transaction_ref TEXT NOT NULL,
    content TEXT NOT NULL,
    pdf_path TEXT,
    is_reported INTEGER NOT NULL DEFAULT 0,
    reported_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_amlo_reports_branch ON amlo_reports(branch_id, report_type);
CREATE INDEX IF NOT EXISTS idx_amlo_reports_pending ON amlo_reports(is_reported, created_at);
`

const schemaBOTReports = `
CREATE TABLE IF NOT EXISTS bot_reports (
    id TEXT PRIMARY KEY,
    report_no TEXT NOT NULL,
    variant TEXT NOT NULL,
    branch_id TEXT NOT NULL,
    transaction_ref TEXT,
    content TEXT NOT NULL,
    report_date TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bot_reports_export ON bot_reports(variant, report_date, branch_id);
`

const schemaSequenceCounters = `
CREATE TABLE IF NOT EXISTS sequence_counters (
    branch_id TEXT NOT NULL,
    seq_date TEXT NOT NULL,
    kind TEXT NOT NULL,
    next_seq BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (branch_id, seq_date, kind)
);
`

// AllSchemas returns all schema definitions in creation order.
func AllSchemas() []string {
	return []string{
		schemaTriggerRules,
		schemaExchangeTransactions,
		schemaExchangeRates,
		schemaBranches,
		schemaReservedTransactions,
		schemaAMLOReports,
		schemaBOTReports,
		schemaSequenceCounters,
	}
}
