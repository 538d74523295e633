// Package tick implements the integer price grid used everywhere downstream
// of market data ingestion. A tick is an integer in [1,999] representing a
// decimal price p = tick/1000. Once a price has entered the engine through
// FromFloat or FromDecimal it is never stored or compared as a float again.
package tick

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// Min is the lowest legal tick value.
	Min = 1
	// Max is the highest legal tick value.
	Max = 999
	// Scale is the grid denominator: price = tick / Scale.
	Scale = 1000
)

// Tick is an integer price on the 1/1000 grid, always within [Min, Max].
type Tick int

// Clamp saturates t into [Min, Max].
func Clamp(t int) Tick {
	if t < Min {
		return Min
	}
	if t > Max {
		return Max
	}
	return Tick(t)
}

// FromFloat truncates a decimal price into a tick. NaN and Inf clamp to Min.
// The float is converted through decimal (its shortest decimal form) before
// truncation, so every grid-point float maps to its own tick. A value that
// float arithmetic left just under a grid point (14.4/30 is
// 0.4799999999999999) still truncates to the tick below.
func FromFloat(price float64) Tick {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Min
	}
	return FromDecimal(decimal.NewFromFloat(price))
}

// FromDecimal truncates a shopspring/decimal price into a tick. This is the
// preferred entry point for venue-supplied price strings, since parsing
// through decimal.Decimal avoids the float round-trip artifacts that can
// nudge a price string like "0.999" to 998 via naive strconv.ParseFloat.
func FromDecimal(price decimal.Decimal) Tick {
	scaled := price.Mul(decimal.NewFromInt(Scale)).Floor()
	if scaled.LessThan(decimal.NewFromInt(Min)) {
		return Min
	}
	if scaled.GreaterThan(decimal.NewFromInt(Max)) {
		return Max
	}
	return Tick(scaled.IntPart())
}

// ToFloat returns the decimal price for a tick, clamping first.
func ToFloat(t Tick) float64 {
	return float64(Clamp(int(t))) / Scale
}

// ToDecimal returns the decimal.Decimal price for a tick, clamping first.
func ToDecimal(t Tick) decimal.Decimal {
	return decimal.NewFromInt(int64(Clamp(int(t)))).Div(decimal.NewFromInt(Scale))
}

// SlippageAdjust nudges baseTick by a fractional slippage amount, away from
// the market on a buy (higher) and toward the market on a sell (lower).
func SlippageAdjust(base Tick, slippageFraction float64, isBuy bool) Tick {
	delta := int(math.Floor(float64(base) * slippageFraction))
	if isBuy {
		return Clamp(int(base) + delta)
	}
	return Clamp(int(base) - delta)
}

// Invert returns the complementary leg's tick: a NO price derived from its
// paired YES price, or vice versa. Prices on complementary legs of a binary
// market sum to approximately Scale.
func Invert(t Tick) Tick {
	return Clamp(Scale - int(Clamp(int(t))))
}
