// Package schedule owns the duration guard: due dates are always derived from
// the activation instant plus the originally intended duration, never from the
// calendar dates the gig was posted with. A gig scheduled Jan 1-3 that is only
// matched on Jan 3 is due Jan 6, not Jan 3.
package schedule

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWeeks is used when upstream gig data carries a missing or invalid
// duration. Activation must not fail on incomplete gig rows.
var DefaultWeeks = decimal.NewFromInt(1)

var sevenDays = decimal.NewFromInt(7)

// DueDate computes activatedAt + weeks*7 days, rounded to whole days.
// Non-positive weeks fall back to DefaultWeeks.
func DueDate(activatedAt time.Time, weeks decimal.Decimal) time.Time {
	days := DurationDays(weeks)
	return activatedAt.Add(time.Duration(days) * 24 * time.Hour)
}

// DurationDays returns the guarded duration in whole days.
func DurationDays(weeks decimal.Decimal) int64 {
	if weeks.LessThanOrEqual(decimal.Zero) {
		weeks = DefaultWeeks
	}
	return weeks.Mul(sevenDays).Round(0).IntPart()
}
