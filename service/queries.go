package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Persevera-Asset-Management/PerseveraTools/load"
)

const companyTable = "descriptor_zoo"

var validFields = map[string]bool{
	"open":   true,
	"high":   true,
	"low":    true,
	"close":  true,
	"volume": true,
	"value":  true,
}

var validFundFields = map[string]bool{
	"nav":          true,
	"total_equity": true,
	"total_value":  true,
	"inflows":      true,
	"outflows":     true,
	"holders":      true,
}

// Point is one dated value of a series.
type Point struct {
	Date  time.Time
	Value float64
}

// WideFrame holds several series over a shared date axis. Values are
// keyed by code; each slice is aligned with Dates.
type WideFrame struct {
	Dates  []time.Time
	Codes  []string
	Values map[string][]float64
}

// GetSeries reads one indicator series between start and end
// (inclusive, "2006-01-02" format), oldest first.
func (s *FinancialDataService) GetSeries(ctx context.Context, code, field, start, end string) ([]Point, error) {
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	if !validFields[field] {
		return nil, fmt.Errorf("invalid field %q", field)
	}
	startDate, endDate, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}

	frame, err := s.db.ReadSQL(ctx,
		"SELECT date, value FROM "+indicatorsTable+
			" WHERE code = ? AND field = ? AND date >= ? AND date <= ? ORDER BY date",
		code, field, startDate, endDate)
	if err != nil {
		return nil, err
	}
	if frame.Empty() {
		return nil, fmt.Errorf("no data found for code %s field %s between %s and %s", code, field, start, end)
	}

	points := make([]Point, 0, len(frame.Rows))
	for _, row := range frame.Rows {
		date, value, ok := pointFromRow(row, 0, 1)
		if !ok {
			continue
		}
		points = append(points, Point{Date: date, Value: value})
	}
	return points, nil
}

// GetCompanyData reads one descriptor for several company codes and
// pivots the result into a wide frame.
func (s *FinancialDataService) GetCompanyData(ctx context.Context, codes []string, field, start, end string) (WideFrame, error) {
	if len(codes) == 0 {
		return WideFrame{}, fmt.Errorf("at least one code is required")
	}
	if field == "" {
		return WideFrame{}, fmt.Errorf("field is required")
	}
	startDate, endDate, err := parseRange(start, end)
	if err != nil {
		return WideFrame{}, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(codes)), ", ")
	args := make([]any, 0, len(codes)+3)
	for _, code := range codes {
		args = append(args, code)
	}
	args = append(args, field, startDate, endDate)

	frame, err := s.db.ReadSQL(ctx,
		"SELECT date, code, value FROM "+companyTable+
			" WHERE code IN ("+placeholders+") AND field = ? AND date >= ? AND date <= ? ORDER BY date, code",
		args...)
	if err != nil {
		return WideFrame{}, err
	}
	if frame.Empty() {
		return WideFrame{}, fmt.Errorf("no data found for field %s between %s and %s", field, start, end)
	}

	return pivotFrame(frame, codes)
}

// GetFundsData reads daily fund filings for the requested CNPJs.
func (s *FinancialDataService) GetFundsData(ctx context.Context, cnpjs []string, fields []string, start, end string) (load.Frame, error) {
	if len(cnpjs) == 0 {
		return load.Frame{}, fmt.Errorf("at least one fund CNPJ is required")
	}
	if len(fields) == 0 {
		fields = []string{"nav"}
	}
	for _, f := range fields {
		if !validFundFields[f] {
			return load.Frame{}, fmt.Errorf("invalid fund field %q", f)
		}
	}
	startDate, endDate, err := parseRange(start, end)
	if err != nil {
		return load.Frame{}, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cnpjs)), ", ")
	args := make([]any, 0, len(cnpjs)+2)
	for _, cnpj := range cnpjs {
		args = append(args, cnpj)
	}
	args = append(args, startDate, endDate)

	frame, err := s.db.ReadSQL(ctx,
		"SELECT fund_cnpj, date, "+strings.Join(fields, ", ")+" FROM "+fundsTable+
			" WHERE fund_cnpj IN ("+placeholders+") AND date >= ? AND date <= ? ORDER BY fund_cnpj, date",
		args...)
	if err != nil {
		return load.Frame{}, err
	}
	if frame.Empty() {
		return load.Frame{}, fmt.Errorf("no fund data found between %s and %s", start, end)
	}

	return frame, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if endDate.Before(startDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return startDate, endDate, nil
}

func pointFromRow(row []any, dateIdx, valueIdx int) (time.Time, float64, bool) {
	date, ok := row[dateIdx].(time.Time)
	if !ok {
		return time.Time{}, 0, false
	}
	switch v := row[valueIdx].(type) {
	case float64:
		return date, v, true
	case int64:
		return date, float64(v), true
	default:
		return time.Time{}, 0, false
	}
}

// pivotFrame turns (date, code, value) rows into one column per code.
// Cells without an observation hold NaN.
func pivotFrame(frame load.Frame, codes []string) (WideFrame, error) {
	wide := WideFrame{Values: make(map[string][]float64, len(codes))}
	dateIdx := make(map[time.Time]int)

	for _, row := range frame.Rows {
		date, ok := row[0].(time.Time)
		if !ok {
			continue
		}
		if _, seen := dateIdx[date]; !seen {
			dateIdx[date] = len(wide.Dates)
			wide.Dates = append(wide.Dates, date)
		}
	}

	for _, code := range codes {
		wide.Codes = append(wide.Codes, code)
		wide.Values[code] = makeNaNSlice(len(wide.Dates))
	}

	for _, row := range frame.Rows {
		date, ok := row[0].(time.Time)
		if !ok {
			continue
		}
		code, ok := row[1].(string)
		if !ok {
			continue
		}
		values, ok := wide.Values[code]
		if !ok {
			continue
		}
		switch v := row[2].(type) {
		case float64:
			values[dateIdx[date]] = v
		case int64:
			values[dateIdx[date]] = float64(v)
		}
	}

	return wide, nil
}

func makeNaNSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
