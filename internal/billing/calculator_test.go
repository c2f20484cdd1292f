package billing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMilestoneAmountEvenSplit(t *testing.T) {
	for seq := 1; seq <= 3; seq++ {
		amt, err := MilestoneAmount(dec("300"), 3, seq)
		if err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
		if !amt.Equal(dec("100")) {
			t.Fatalf("seq %d: got %s want 100", seq, amt)
		}
	}
}

func TestMilestoneAmountRemainderToLast(t *testing.T) {
	budget := dec("100")
	var sum decimal.Decimal
	for seq := 1; seq <= 3; seq++ {
		amt, err := MilestoneAmount(budget, 3, seq)
		if err != nil {
			t.Fatal(err)
		}
		if seq < 3 && !amt.Equal(dec("33.33")) {
			t.Fatalf("seq %d: got %s want 33.33", seq, amt)
		}
		if seq == 3 && !amt.Equal(dec("33.34")) {
			t.Fatalf("last: got %s want 33.34", amt)
		}
		sum = sum.Add(amt)
	}
	if !sum.Equal(budget) {
		t.Fatalf("sum %s != budget %s", sum, budget)
	}
}

func TestMilestoneAmountRejectsBadInputs(t *testing.T) {
	if _, err := MilestoneAmount(dec("100"), 0, 1); err == nil {
		t.Fatal("expected error for zero tasks")
	}
	if _, err := MilestoneAmount(dec("100"), 3, 4); err == nil {
		t.Fatal("expected error for seq out of range")
	}
	if _, err := MilestoneAmount(dec("-5"), 3, 1); err == nil {
		t.Fatal("expected error for negative budget")
	}
}

func TestCompletionSplit(t *testing.T) {
	budget := dec("1000")
	upfront := UpfrontAmount(budget, DefaultUpfrontRatio)
	if !upfront.Equal(dec("120")) {
		t.Fatalf("upfront %s", upfront)
	}
	manual := dec("300").Add(dec("280"))
	final, err := FinalAmount(budget, upfront, manual)
	if err != nil {
		t.Fatal(err)
	}
	if !final.Equal(dec("300")) {
		t.Fatalf("final %s want 300", final)
	}
	if !upfront.Add(manual).Add(final).Equal(budget) {
		t.Fatalf("split does not sum to budget")
	}
}

func TestRemainingBudget(t *testing.T) {
	got := RemainingBudget(dec("1000"), dec("120"), dec("880"))
	if !got.IsZero() {
		t.Fatalf("remaining %s want 0", got)
	}
}

func TestFinalAmountNegativeIsError(t *testing.T) {
	if _, err := FinalAmount(dec("1000"), dec("120"), dec("900")); err == nil {
		t.Fatal("expected error for negative settlement")
	}
}
