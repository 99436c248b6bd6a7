package ledger

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// Period identifies one settlement cycle as a calendar month, e.g. "2026-10"
type Period string

// PeriodOf returns the period containing t
func PeriodOf(t time.Time) Period {
	return Period(t.Format(periodLayout))
}

// ParsePeriod validates a YYYY-MM string
func ParsePeriod(value string) (Period, error) {
	if _, err := time.Parse(periodLayout, value); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, value)
	}
	return Period(value), nil
}

// String returns the string representation of Period
func (p Period) String() string {
	return string(p)
}

// Before reports whether p is an earlier month than other. The empty period
// sorts before every month.
func (p Period) Before(other Period) bool {
	return p < other
}

// Next returns the following period
func (p Period) Next() Period {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return p
	}
	return PeriodOf(t.AddDate(0, 1, 0))
}
