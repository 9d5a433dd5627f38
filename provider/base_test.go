package provider

import (
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Persevera-Asset-Management/PerseveraTools/series"
)

func testBase(t *testing.T, startDate string) Base {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	base, err := NewBase(startDate, logger)
	require.NoError(t, err)
	return base
}

func TestNewBaseRejectsBadStartDate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	_, err := NewBase("not-a-date", logger)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateSortsAndNormalizes(t *testing.T) {
	base := testBase(t, "1980-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "2024-01-01", Code: "b", Field: "close", Value: series.Float(1)},
		{Date: "2024-01-02", Code: "a", Field: "close", Value: series.Float(2)},
		{Date: "2024-01-02", Code: "a", Field: "open", Value: series.Float(3)},
		{Date: "2024-01-01", Code: "a", Field: "close", Value: series.Float(4)},
	})

	obs, err := base.Validate(raw)
	require.NoError(t, err)
	require.Len(t, obs, 4)

	// Date descending, then code and field ascending.
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), obs[0].Date)
	assert.Equal(t, "a", obs[0].Code)
	assert.Equal(t, "close", obs[0].Field)
	assert.Equal(t, "open", obs[1].Field)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), obs[2].Date)
	assert.Equal(t, "a", obs[2].Code)
	assert.Equal(t, "b", obs[3].Code)
}

func TestValidateMissingColumnsFails(t *testing.T) {
	base := testBase(t, "1980-01-01")

	raw := series.RawTable{Columns: []string{"date", "code"}}

	_, err := base.Validate(raw)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, err.Error(), "field")
}

func TestValidateBadDateFailsWholeBatch(t *testing.T) {
	base := testBase(t, "1980-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "2024-01-01", Code: "a", Field: "close", Value: series.Float(1)},
		{Date: "garbage", Code: "a", Field: "close", Value: series.Float(2)},
	})

	_, err := base.Validate(raw)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestValidateEmptyCodeFailsWholeBatch(t *testing.T) {
	base := testBase(t, "1980-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "2024-01-01", Code: "", Field: "close", Value: series.Float(1)},
	})

	_, err := base.Validate(raw)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestValidateDropsMissingValues(t *testing.T) {
	base := testBase(t, "1980-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "2024-01-01", Code: "a", Field: "close", Value: nil},
		{Date: "2024-01-02", Code: "a", Field: "close", Value: series.Float(math.NaN())},
		{Date: "2024-01-03", Code: "a", Field: "close", Value: series.Float(5)},
	})

	obs, err := base.Validate(raw)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 5.0, obs[0].Value)
}

func TestValidateInfinityFails(t *testing.T) {
	base := testBase(t, "1980-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "2024-01-01", Code: "a", Field: "close", Value: series.Float(math.Inf(1))},
	})

	_, err := base.Validate(raw)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestValidateInfinityBeforeStartDateStillFails(t *testing.T) {
	// An infinite value is a data corruption signal even when the row
	// itself would be filtered out by the start-date floor.
	base := testBase(t, "2020-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "1999-01-01", Code: "a", Field: "close", Value: series.Float(math.Inf(-1))},
		{Date: "2024-01-01", Code: "a", Field: "close", Value: series.Float(1)},
	})

	_, err := base.Validate(raw)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestValidateStartDateFilter(t *testing.T) {
	base := testBase(t, "2020-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "1999-01-01", Code: "a", Field: "close", Value: series.Float(1)},
		{Date: "2024-01-01", Code: "a", Field: "close", Value: series.Float(2)},
	})

	obs, err := base.Validate(raw)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 2.0, obs[0].Value)
}

func TestValidateAllFilteredIsNotAnError(t *testing.T) {
	base := testBase(t, "2020-01-01")

	raw := series.NewRawTable([]series.RawRow{
		{Date: "1999-01-01", Code: "a", Field: "close", Value: series.Float(1)},
	})

	obs, err := base.Validate(raw)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestValidateDateFormats(t *testing.T) {
	base := testBase(t, "1980-01-01")

	tests := []struct {
		name string
		date string
		want time.Time
	}{
		{"iso", "2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"brazilian", "05/03/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"year-month", "202403", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := series.NewRawTable([]series.RawRow{
				{Date: tt.date, Code: "a", Field: "close", Value: series.Float(1)},
			})
			obs, err := base.Validate(raw)
			require.NoError(t, err)
			require.Len(t, obs, 1)
			assert.Equal(t, tt.want, obs[0].Date)
		})
	}
}
