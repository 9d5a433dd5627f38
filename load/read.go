package load

import (
	"context"
	"fmt"
	"time"
)

// Frame holds the result of a query as column names plus row-major
// values. Timestamps come back as time.Time, numbers as float64 or
// int64, text as string.
type Frame struct {
	Columns []string
	Rows    [][]any
}

func (f Frame) Empty() bool { return len(f.Rows) == 0 }

// ColumnIndex returns the position of a column, or -1 when absent.
func (f Frame) ColumnIndex(name string) int {
	for i, col := range f.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// ReadSQL runs a query and returns the full result set. Query failures
// and scan failures are returned as errors, never collapsed into an
// empty frame; an empty frame means the query genuinely matched
// nothing.
func (db *DB) ReadSQL(ctx context.Context, query string, args ...any) (Frame, error) {
	rows, err := db.DB.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to get columns: %w", err)
	}

	frame := Frame{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Frame{}, fmt.Errorf("failed to scan row: %w", err)
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		frame.Rows = append(frame.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Frame{}, fmt.Errorf("error iterating over rows: %w", err)
	}

	return frame, nil
}

// normalizeValue smooths over driver differences: byte slices become
// strings and timestamps are forced to UTC.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
