package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// ACCRUAL PERIODS - The dedup key space for scheduled grants
// =============================================================================

// Period names the logical window a scheduled grant belongs to. Two runs of
// the same rule for the same Period must not grant twice.
//
// Examples:
//   - Monthly attendance rule for September 2026: "2026-09"
//   - Anniversary rule for the 3rd service year reached in 2026: "2026"
type Period string

// MonthRange returns the first..last day of the month.
func MonthRange(year int, month time.Month) DateRange {
	start := NewDate(year, month, 1)
	return DateRange{Start: start, End: start.AddMonths(1).AddDays(-1)}
}

// MonthPeriod is the Period key of a calendar month.
func MonthPeriod(year int, month time.Month) Period {
	return Period(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// PreviousMonth returns the full calendar month before d and its Period key.
func PreviousMonth(d Date) (DateRange, Period) {
	firstOfPrevious := NewDate(d.Year(), d.Month(), 1).AddMonths(-1)
	return MonthRange(firstOfPrevious.Year(), firstOfPrevious.Month()),
		MonthPeriod(firstOfPrevious.Year(), firstOfPrevious.Month())
}

// AnniversaryPeriod is the Period key of the anniversary reached in year.
func AnniversaryPeriod(year int) Period {
	return Period(fmt.Sprintf("%04d", year))
}

// AnniversaryOn reports whether on is a hire-date anniversary and how many
// full years of service it completes. The hire date itself is not an
// anniversary. Employees hired on February 29 celebrate on February 28 in
// non-leap years.
func AnniversaryOn(hire, on Date) (years int, ok bool) {
	if hire.IsZero() || !on.After(hire) {
		return 0, false
	}
	month, day := hire.Month(), hire.Day()
	if month == time.February && day == 29 && !isLeapYear(on.Year()) {
		day = 28
	}
	if on.Month() != month || on.Day() != day {
		return 0, false
	}
	return on.Year() - hire.Year(), true
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
