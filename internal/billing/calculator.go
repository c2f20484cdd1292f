// Package billing holds the pure invoice amount calculators for both
// invoicing models. All arithmetic is exact decimal; amounts are rounded to
// two places.
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultUpfrontRatio is the completion-model upfront share of the budget.
// The remaining share is invoiced manually and settled at completion. The
// ratio is configurable per deployment; this is the single default.
var DefaultUpfrontRatio = decimal.RequireFromString("0.12")

// AmountPlaces is the rounding precision for invoice amounts.
const AmountPlaces = 2

// MilestoneAmount returns the amount of the seq-th (1-based) auto milestone
// invoice for an evenly split budget. Every invoice but the last gets the
// round-down share; the last absorbs the remainder so the series sums to the
// budget exactly.
func MilestoneAmount(totalBudget decimal.Decimal, totalTasks, seq int) (decimal.Decimal, error) {
	if totalTasks <= 0 {
		return decimal.Zero, fmt.Errorf("total tasks must be positive, got %d", totalTasks)
	}
	if seq < 1 || seq > totalTasks {
		return decimal.Zero, fmt.Errorf("milestone %d out of range 1..%d", seq, totalTasks)
	}
	if totalBudget.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("budget must be positive, got %s", totalBudget)
	}
	n := decimal.NewFromInt(int64(totalTasks))
	base := totalBudget.Div(n).RoundDown(AmountPlaces)
	if seq < totalTasks {
		return base, nil
	}
	return totalBudget.Sub(base.Mul(n.Sub(decimal.NewFromInt(1)))), nil
}

// UpfrontAmount is the completion-model payment made at activation.
func UpfrontAmount(totalBudget, upfrontRatio decimal.Decimal) decimal.Decimal {
	return totalBudget.Mul(upfrontRatio).Round(AmountPlaces)
}

// RemainingBudget is what manual invoices may still claim: the non-upfront
// share minus everything already invoiced manually (cancelled excluded by the
// caller).
func RemainingBudget(totalBudget, upfront, manualInvoiced decimal.Decimal) decimal.Decimal {
	return totalBudget.Sub(upfront).Sub(manualInvoiced)
}

// FinalAmount is the settlement computed once when a completion project is
// marked complete. A negative result means the books are broken upstream and
// must surface as an error, never be clamped.
func FinalAmount(totalBudget, upfront, manualInvoiced decimal.Decimal) (decimal.Decimal, error) {
	final := RemainingBudget(totalBudget, upfront, manualInvoiced)
	if final.IsNegative() {
		return decimal.Zero, fmt.Errorf("final settlement is negative (%s): invoiced amounts exceed budget", final)
	}
	return final, nil
}
