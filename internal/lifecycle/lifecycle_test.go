package lifecycle

import (
	"testing"
	"time"
)

func TestClassifySingleActive(t *testing.T) {
	c := Container{Children: []ChildMarket{{
		ConditionID: "m1",
		HasEndDate:  true,
		EndDate:     time.Now().Add(24 * time.Hour),
	}}}
	r := Classify(c, "m1", time.Now())
	if r.Type != Single || r.State != Active {
		t.Fatalf("got %+v", r)
	}
}

func TestClassifySinglePendingAfterEndDate(t *testing.T) {
	c := Container{Children: []ChildMarket{{
		ConditionID: "m1",
		HasEndDate:  true,
		EndDate:     time.Now().Add(-time.Hour),
	}}}
	r := Classify(c, "m1", time.Now())
	if r.State != PendingResolution {
		t.Fatalf("want PENDING_RESOLUTION, got %v", r.State)
	}
}

func TestClassifySingleResolvedYesWon(t *testing.T) {
	c := Container{Children: []ChildMarket{{
		ConditionID:   "m1",
		UmaResolution: "resolved",
		OutcomeLabels: []string{"No", "Yes"},
		OutcomePrices: []float64{0, 1},
	}}}
	r := Classify(c, "m1", time.Now())
	if r.State != Closed || r.Winner != WinnerYES || r.WinningOutcomeIdx != 1 {
		t.Fatalf("got %+v", r)
	}
}

func TestClassifyMultiUsesAcceptingOrdersNotEndDate(t *testing.T) {
	c := Container{Children: []ChildMarket{
		{ConditionID: "a", AcceptingOrders: true, HasEndDate: true, EndDate: time.Now().Add(-time.Hour)},
		{ConditionID: "b", AcceptingOrders: false},
	}}
	ra := Classify(c, "a", time.Now())
	if ra.Type != Multi || ra.State != Active {
		t.Fatalf("expected multi child 'a' active despite past end date, got %+v", ra)
	}
	rb := Classify(c, "b", time.Now())
	if rb.State != PendingResolution {
		t.Fatalf("expected multi child 'b' pending, got %+v", rb)
	}
}

func TestClassifyMultiNoMatchReturnsActiveUnmatched(t *testing.T) {
	c := Container{Children: []ChildMarket{
		{ConditionID: "a"},
		{ConditionID: "b"},
	}}
	r := Classify(c, "zzz", time.Now())
	if r.Matched || r.State != Active {
		t.Fatalf("got %+v", r)
	}
}

func TestClassifyMultiResolvedWinningSide(t *testing.T) {
	c := Container{Children: []ChildMarket{
		{ConditionID: "a"},
		{
			ConditionID:   "b",
			UmaResolution: "resolved",
			OutcomeLabels: []string{"No", "Yes"},
			OutcomePrices: []float64{0.01, 0.99},
		},
	}}
	r := Classify(c, "b", time.Now())
	if r.Winner != WinnerYES || r.WinningSide != SideYES {
		t.Fatalf("got %+v", r)
	}
}
