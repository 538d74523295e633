package tick

import "testing"

func TestRoundTripMonotonicity(t *testing.T) {
	for v := Min; v <= Max; v++ {
		got := FromFloat(ToFloat(Tick(v)))
		if int(got) != v {
			t.Fatalf("round trip broke at tick %d: got %d", v, got)
		}
	}
}

func TestFromFloatClamps(t *testing.T) {
	cases := []struct {
		in   float64
		want Tick
	}{
		{-1, Min},
		{0, Min},
		{0.0001, Min},
		{0.5, 500},
		{0.999, 999},
		{1.5, Max},
	}
	for _, c := range cases {
		if got := FromFloat(c.in); got != c.want {
			t.Errorf("FromFloat(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFromFloatRejectsNaN(t *testing.T) {
	nan := math_NaN()
	if got := FromFloat(nan); got != Min {
		t.Fatalf("expected NaN to clamp to Min, got %d", got)
	}
}

func math_NaN() float64 {
	var z float64
	return z / z
}

func TestClamp(t *testing.T) {
	if Clamp(-5) != Min {
		t.Errorf("Clamp(-5) should saturate to Min")
	}
	if Clamp(5000) != Max {
		t.Errorf("Clamp(5000) should saturate to Max")
	}
	if Clamp(500) != 500 {
		t.Errorf("Clamp(500) should be unchanged")
	}
}

func TestSlippageAdjustBuyAndSell(t *testing.T) {
	base := Tick(500)
	buy := SlippageAdjust(base, 0.01, true)
	if buy <= base {
		t.Errorf("buy slippage should push tick up, got %d from %d", buy, base)
	}
	sell := SlippageAdjust(base, 0.01, false)
	if sell >= base {
		t.Errorf("sell slippage should push tick down, got %d from %d", sell, base)
	}
}

func TestInvertComplementary(t *testing.T) {
	if got := Invert(Tick(440)); got != 560 {
		t.Errorf("Invert(440) = %d, want 560", got)
	}
	if got := Invert(Tick(1)); got != Max {
		t.Errorf("Invert(1) = %d, want %d", got, Max)
	}
	if got := Invert(Tick(999)); got != Min {
		t.Errorf("Invert(999) = %d, want %d", got, Min)
	}
}
