package series

import (
	"fmt"
	"slices"
	"time"
)

// Observation is a single validated fact in the canonical long format.
// (Date, Code, Field) identifies at most one Value in the persisted store.
type Observation struct {
	Date  time.Time
	Code  string
	Field string
	Value float64
}

// Columns lists the required canonical columns, in persisted order.
var Columns = []string{"date", "code", "field", "value"}

// RawRow is one unvalidated row as produced by a data source. Date stays
// in the source's own textual format until the validator coerces it; a
// nil Value marks a missing measurement.
type RawRow struct {
	Date  string
	Code  string
	Field string
	Value *float64
}

// RawTable approximates the canonical shape before validation. Columns
// records which canonical columns the source actually populated, so a
// schema violation can name the missing ones.
type RawTable struct {
	Columns []string
	Rows    []RawRow
}

// NewRawTable returns a table carrying all four canonical columns.
func NewRawTable(rows []RawRow) RawTable {
	return RawTable{Columns: Columns, Rows: rows}
}

// MissingColumns returns the canonical columns the table does not carry.
func (t RawTable) MissingColumns() []string {
	var missing []string
	for _, want := range Columns {
		if !slices.Contains(t.Columns, want) {
			missing = append(missing, want)
		}
	}
	return missing
}

// Float returns a pointer suitable for a RawRow value.
func Float(v float64) *float64 {
	return &v
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
	"200601",
}

// ParseDate coerces a source-formatted date string into a calendar date.
// Accepted layouts cover ISO dates and timestamps, Brazilian dd/mm/yyyy
// and yyyymm monthly periods.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// FundRecord is one daily fund observation from the CVM registry, keyed
// by (CNPJ, Date). Numeric fields follow the source file: a missing
// measurement is NaN and is persisted as NULL.
type FundRecord struct {
	CNPJ        string
	Date        time.Time
	NAV         float64
	TotalEquity float64
	TotalValue  float64
	Inflows     float64
	Outflows    float64
	Holders     float64
}
