package load

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Persevera-Asset-Management/PerseveraTools/series"
)

// DefaultBatchSize bounds the number of rows per INSERT statement.
const DefaultBatchSize = 5000

// Records is a column-ordered set of rows headed for one table.
type Records struct {
	Columns []string
	Rows    [][]any
}

// ObservationRecords shapes canonical observations for persistence.
func ObservationRecords(obs []series.Observation) Records {
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []any{o.Date, o.Code, o.Field, o.Value})
	}
	return Records{Columns: []string{"date", "code", "field", "value"}, Rows: rows}
}

// FundRecords shapes fund filings for persistence.
func FundRecords(funds []series.FundRecord) Records {
	rows := make([][]any, 0, len(funds))
	for _, f := range funds {
		rows = append(rows, []any{
			f.CNPJ, f.Date, f.NAV, f.TotalEquity, f.TotalValue,
			f.Inflows, f.Outflows, f.Holders,
		})
	}
	return Records{
		Columns: []string{
			"fund_cnpj", "date", "nav", "total_equity", "total_value",
			"inflows", "outflows", "holders",
		},
		Rows: rows,
	}
}

// ToSQL writes records into table with upsert semantics on the key
// columns. When update is true conflicting rows are overwritten column
// by column, otherwise they are left untouched. Rows sharing a key tuple
// are deduplicated before writing, keeping the last occurrence, so a
// single statement never conflicts with itself. NaN values are stored as
// NULL. A batchSize of 0 means DefaultBatchSize.
//
// Each batch commits independently. A failed batch aborts the remaining
// ones; rows written by earlier batches stay written, and re-running the
// same call is safe because of the upsert.
func (db *DB) ToSQL(ctx context.Context, records Records, table string, keys []string, update bool, batchSize int) error {
	if len(keys) == 0 {
		return &PersistenceError{Table: table, Err: fmt.Errorf("at least one key column is required")}
	}
	keyIdx := make([]int, 0, len(keys))
	for _, key := range keys {
		found := false
		for i, col := range records.Columns {
			if col == key {
				keyIdx = append(keyIdx, i)
				found = true
				break
			}
		}
		if !found {
			return &PersistenceError{Table: table, Err: fmt.Errorf("key column %q not in record columns", key)}
		}
	}

	rows := dedupeLastWins(records.Rows, keyIdx)
	if len(rows) == 0 {
		db.Logger.Info(fmt.Sprintf("No rows to persist to %s", table))
		return nil
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	numBatches := (len(rows) + batchSize - 1) / batchSize
	db.Logger.Info(fmt.Sprintf("Persisting %d rows to %s in %d batches", len(rows), table, numBatches))

	start := time.Now()
	for b := 0; b < numBatches; b++ {
		lo := b * batchSize
		hi := lo + batchSize
		if hi > len(rows) {
			hi = len(rows)
		}
		batch := rows[lo:hi]

		query := upsertQuery(table, records.Columns, keys, update, len(batch))
		args := make([]any, 0, len(batch)*len(records.Columns))
		for _, row := range batch {
			for _, v := range row {
				args = append(args, nullifyNaN(v))
			}
		}

		batchStart := time.Now()
		if _, err := db.DB.ExecContext(ctx, db.rebind(query), args...); err != nil {
			return &PersistenceError{Table: table, Batch: b + 1, Err: err}
		}

		elapsed := time.Since(start)
		remaining := time.Duration(0)
		if b+1 < numBatches {
			remaining = elapsed / time.Duration(b+1) * time.Duration(numBatches-b-1)
		}
		db.Logger.Info(fmt.Sprintf(
			"Batch %d/%d written to %s in %s (est. remaining %s)",
			b+1, numBatches, table,
			time.Since(batchStart).Round(time.Millisecond),
			remaining.Round(time.Second),
		))
	}

	db.Logger.Info(fmt.Sprintf("Persisted %d rows to %s in %s", len(rows), table, time.Since(start).Round(time.Millisecond)))
	return nil
}

// dedupeLastWins drops earlier rows that share a key tuple with a later
// row, preserving the relative order of the survivors.
func dedupeLastWins(rows [][]any, keyIdx []int) [][]any {
	seen := make(map[string]int, len(rows))
	keep := make([]bool, len(rows))
	for i, row := range rows {
		k := keyString(row, keyIdx)
		if prev, ok := seen[k]; ok {
			keep[prev] = false
		}
		seen[k] = i
		keep[i] = true
	}

	out := make([][]any, 0, len(seen))
	for i, row := range rows {
		if keep[i] {
			out = append(out, row)
		}
	}
	return out
}

func keyString(row []any, keyIdx []int) string {
	parts := make([]string, len(keyIdx))
	for i, idx := range keyIdx {
		switch v := row[idx].(type) {
		case time.Time:
			parts[i] = v.UTC().Format(time.RFC3339Nano)
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, "\x00")
}

func nullifyNaN(v any) any {
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return nil
	}
	return v
}

func upsertQuery(table string, columns, keys []string, update bool, numRows int) string {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	values := make([]string, numRows)
	for i := range values {
		values[i] = placeholders
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO ",
		table,
		strings.Join(columns, ", "),
		strings.Join(values, ", "),
		strings.Join(keys, ", "),
	)

	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		if isKey(col, keys) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	// With every column in the key there is nothing left to update.
	if !update || len(sets) == 0 {
		b.WriteString("NOTHING")
		return b.String()
	}

	b.WriteString("UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

func isKey(col string, keys []string) bool {
	for _, k := range keys {
		if k == col {
			return true
		}
	}
	return false
}
