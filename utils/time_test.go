package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusinessDayRange(t *testing.T) {
	// 2024-03-06 is a Wednesday.
	end := time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)

	days := BusinessDayRange(end, 5)

	want := []time.Time{
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, want, days)
}

func TestBusinessDayRangeSkipsWeekendEnd(t *testing.T) {
	// 2024-03-09 is a Saturday; the most recent business day is Friday.
	end := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	days := BusinessDayRange(end, 1)

	assert.Equal(t, []time.Time{time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)}, days)
}
