package load

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/template"
)

// PersistenceError reports a failed database write. Batch is the
// 1-based index of the batch that failed, or 0 when the failure happened
// before batching.
type PersistenceError struct {
	Table string
	Batch int
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Batch > 0 {
		return fmt.Sprintf("failed to persist data to %s (batch %d): %v", e.Table, e.Batch, e.Err)
	}
	return fmt.Sprintf("failed to persist data to %s: %v", e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DB wraps a database/sql connection to either DuckDB or Postgres. SQL
// throughout this package is written with `?` placeholders and rebound
// for Postgres on the way out.
type DB struct {
	Logger *slog.Logger
	DB     *sql.DB
	driver string
}

func NewDB(cfg *config.Config, logger *slog.Logger) (*DB, error) {
	var db *sql.DB
	var err error

	switch cfg.Database.Driver {
	case "duckdb":
		path := cfg.Database.Path
		if path == ":memory:" {
			path = ""
		}
		db, err = sql.Open("duckdb", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open DuckDB database: %w", err)
		}
		if path == "" {
			logger.Info("Connected to DuckDB in-memory database")
		} else {
			logger.Info(fmt.Sprintf("Connected to local DuckDB database at %s", path))
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("postgres driver selected but no DSN configured")
		}
		db, err = sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open Postgres database: %w", err)
		}
		logger.Info("Connected to Postgres database")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	d := &DB{Logger: logger, DB: db, driver: cfg.Database.Driver}

	for _, path := range cfg.Database.InitQueries {
		query, err := template.RenderFile(path, nil)
		if err != nil {
			d.Close()
			return nil, err
		}
		if _, err := db.ExecContext(context.Background(), query); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to execute init query from file %s: %w", path, err)
		}
	}

	return d, nil
}

func (db *DB) Close() {
	db.DB.Close()
}

// RunQuery executes a statement without returning rows.
func (db *DB) RunQuery(ctx context.Context, query string, args ...any) error {
	if _, err := db.DB.ExecContext(ctx, db.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	return nil
}

// rebind rewrites `?` placeholders to `$n` for Postgres. Question marks
// inside single-quoted literals are left alone.
func (db *DB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
