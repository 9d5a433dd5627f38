package load

import (
	"context"

	"github.com/Persevera-Asset-Management/PerseveraTools/template"
)

// DDL below sticks to types both DuckDB and Postgres accept.

const indicatorsDDL = `CREATE TABLE IF NOT EXISTS {{.Table}} (
    date TIMESTAMP NOT NULL,
    code TEXT NOT NULL,
    field TEXT NOT NULL,
    value DOUBLE PRECISION,
    PRIMARY KEY (code, date, field)
);`

const fundsDDL = `CREATE TABLE IF NOT EXISTS {{.Table}} (
    fund_cnpj TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    nav DOUBLE PRECISION,
    total_equity DOUBLE PRECISION,
    total_value DOUBLE PRECISION,
    inflows DOUBLE PRECISION,
    outflows DOUBLE PRECISION,
    holders DOUBLE PRECISION,
    PRIMARY KEY (fund_cnpj, date)
);`

const definitionsDDL = `CREATE TABLE IF NOT EXISTS {{.Table}} (
    code TEXT NOT NULL,
    raw_code TEXT NOT NULL,
    source TEXT NOT NULL,
    description TEXT,
    PRIMARY KEY (source, raw_code)
);`

// EnsureIndicatorsTable creates the long-format indicators table when
// it does not exist yet.
func (db *DB) EnsureIndicatorsTable(ctx context.Context, table string) error {
	return db.ensureTable(ctx, indicatorsDDL, table)
}

// EnsureFundsTable creates the fund filings table when it does not
// exist yet.
func (db *DB) EnsureFundsTable(ctx context.Context, table string) error {
	return db.ensureTable(ctx, fundsDDL, table)
}

// EnsureDefinitionsTable creates the indicator definitions table when
// it does not exist yet.
func (db *DB) EnsureDefinitionsTable(ctx context.Context, table string) error {
	return db.ensureTable(ctx, definitionsDDL, table)
}

func (db *DB) ensureTable(ctx context.Context, ddl, table string) error {
	query, err := template.Render("ddl", ddl, map[string]any{"Table": table})
	if err != nil {
		return &PersistenceError{Table: table, Err: err}
	}
	if _, err := db.DB.ExecContext(ctx, query); err != nil {
		return &PersistenceError{Table: table, Err: err}
	}
	return nil
}
