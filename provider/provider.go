package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Persevera-Asset-Management/PerseveraTools/series"
)

// DefaultStartDate is the floor applied when no start date is configured.
const DefaultStartDate = "1980-01-01"

// Params carries free-form per-call arguments for a source.
type Params map[string]any

// Int returns the named parameter as an int, or def when absent.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// String returns the named parameter as a string, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Provider is the contract every data source satisfies. GetData fetches
// the given category and returns observations already normalized to the
// canonical long format.
type Provider interface {
	Name() string
	GetData(ctx context.Context, category string, params Params) ([]series.Observation, error)
}

// CodeSource resolves a source name to its raw-to-canonical code mapping.
type CodeSource interface {
	Codes(ctx context.Context, source string) (map[string]string, error)
}

// Base carries the state every provider shares: the start-date floor and
// the output validator enforcing the canonical contract.
type Base struct {
	StartDate time.Time
	Logger    *slog.Logger
}

func NewBase(startDate string, logger *slog.Logger) (Base, error) {
	if startDate == "" {
		startDate = DefaultStartDate
	}
	d, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return Base{}, &ConfigError{
			Field: "start_date",
			Err:   fmt.Errorf("expected YYYY-MM-DD, got %q", startDate),
		}
	}
	return Base{StartDate: d, Logger: logger}, nil
}

// Validate enforces the canonical contract on a raw fetch result:
// all four columns present, dates coercible, codes non-null, null
// values dropped, infinite values rejected, rows before the start-date
// floor filtered out, and the remainder sorted newest first with ties
// broken alphabetically by code then field. An empty result after the
// start-date filter is not an error.
func (b Base) Validate(raw series.RawTable) ([]series.Observation, error) {
	if missing := raw.MissingColumns(); len(missing) > 0 {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
		}
	}

	dates := make([]time.Time, len(raw.Rows))
	for i, r := range raw.Rows {
		d, err := series.ParseDate(r.Date)
		if err != nil {
			return nil, &ValidationError{Reason: "could not coerce 'date' column", Err: err}
		}
		if r.Code == "" {
			return nil, &ValidationError{Reason: "found null values in 'code' column"}
		}
		dates[i] = d
	}

	out := make([]series.Observation, 0, len(raw.Rows))
	for i, r := range raw.Rows {
		if r.Value == nil || math.IsNaN(*r.Value) {
			continue
		}
		if math.IsInf(*r.Value, 0) {
			return nil, &ValidationError{Reason: "found infinite values in 'value' column"}
		}
		if dates[i].Before(b.StartDate) {
			continue
		}
		out = append(out, series.Observation{
			Date:  dates[i],
			Code:  r.Code,
			Field: r.Field,
			Value: *r.Value,
		})
	}

	if len(out) == 0 {
		b.Logger.Warn("No data points found after start_date filter")
		return out, nil
	}

	slices.SortFunc(out, func(x, y series.Observation) int {
		if c := y.Date.Compare(x.Date); c != 0 {
			return c
		}
		if c := strings.Compare(x.Code, y.Code); c != 0 {
			return c
		}
		return strings.Compare(x.Field, y.Field)
	})

	return out, nil
}

func (b Base) logProcessing(category string) {
	b.Logger.Info(fmt.Sprintf("Processing '%s'...", category))
}

// parseNullableFloat reads a source-formatted numeric string; empty and
// unparseable values are treated as missing.
func parseNullableFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
