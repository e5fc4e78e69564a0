package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskmesh/taskmesh/internal/domain"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestNextOccurrence_Daily(t *testing.T) {
	from := mustParse(t, "2025-06-02T08:00:00Z")
	got := NextOccurrence(from, domain.RecurrenceDaily)
	assert.Equal(t, mustParse(t, "2025-06-03T08:00:00Z"), got)
}

func TestNextOccurrence_Weekly(t *testing.T) {
	from := mustParse(t, "2025-06-02T08:00:00Z")
	got := NextOccurrence(from, domain.RecurrenceWeekly)
	assert.Equal(t, mustParse(t, "2025-06-09T08:00:00Z"), got)
}

func TestNextOccurrence_MonthlyClampsToMonthEnd(t *testing.T) {
	from := mustParse(t, "2024-01-31T09:00:00Z")
	first := NextOccurrence(from, domain.RecurrenceMonthly)
	assert.Equal(t, mustParse(t, "2024-02-29T09:00:00Z"), first, "2024 is a leap year")

	second := NextOccurrence(first, domain.RecurrenceMonthly)
	assert.Equal(t, mustParse(t, "2024-03-31T09:00:00Z"), second, "day restores once the month allows it")
}

func TestNextOccurrence_MonthlyNonLeapYear(t *testing.T) {
	from := mustParse(t, "2025-01-31T09:00:00Z")
	got := NextOccurrence(from, domain.RecurrenceMonthly)
	assert.Equal(t, mustParse(t, "2025-02-28T09:00:00Z"), got)
}

func TestNextOccurrence_MonthlyYearRollover(t *testing.T) {
	from := mustParse(t, "2025-12-15T09:00:00Z")
	got := NextOccurrence(from, domain.RecurrenceMonthly)
	assert.Equal(t, mustParse(t, "2026-01-15T09:00:00Z"), got)
}
