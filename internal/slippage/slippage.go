// Package slippage decomposes expected execution cost for a prospective
// trade into spread, market-impact, and delay components, and decides
// whether the trade should execute at all.
package slippage

import (
	"fmt"
	"math"

	"github.com/tradecopy/engine/internal/tick"
)

// DefaultDelayPenalty is used whenever an override is out of bounds.
const DefaultDelayPenalty = 0.003

// MinDelayPenalty and MaxDelayPenalty bound a valid override.
const (
	MinDelayPenalty = 0.002
	MaxDelayPenalty = 0.005
)

// SpreadRejectThreshold is the hard cap on relative spread: above this the
// market is considered dead and the trade is rejected regardless of edge.
const SpreadRejectThreshold = 0.15

// Level is one order-book price/size rung.
type Level struct {
	Tick tick.Tick
	Size float64
}

// Book is the subset of order-book state the estimator needs.
type Book struct {
	Bids []Level // sorted descending by price
	Asks []Level // sorted ascending by price
}

// Side is the trade direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Decision is the decomposed slippage estimate.
type Decision struct {
	Spread        float64
	DepthUSD      float64
	Impact        float64
	DelayPenalty  float64
	TotalSlippage float64
	Threshold     float64
	ShouldExecute bool
	Reason        string
}

// Estimate computes the slippage decision for a prospective trade of the
// given notional (USD) and side, given the full order book and an expected
// edge fraction. delayPenalty is the caller's configured override; an
// out-of-range value collapses to DefaultDelayPenalty.
func Estimate(book Book, notionalUSD float64, side Side, expectedEdge, delayPenalty float64) Decision {
	if delayPenalty < MinDelayPenalty || delayPenalty > MaxDelayPenalty {
		delayPenalty = DefaultDelayPenalty
	}

	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return Decision{
			DelayPenalty:  delayPenalty,
			ShouldExecute: false,
			Reason:        "no two-sided book",
		}
	}

	bestBid := float64(book.Bids[0].Tick)
	bestAsk := float64(book.Asks[0].Tick)
	mid := (bestBid + bestAsk) / 2
	if mid <= 0 {
		return Decision{DelayPenalty: delayPenalty, ShouldExecute: false, Reason: "zero mid price"}
	}

	spread := (bestAsk - bestBid) / mid
	if spread > SpreadRejectThreshold {
		return Decision{
			Spread:        spread,
			DelayPenalty:  delayPenalty,
			ShouldExecute: false,
			Reason:        fmt.Sprintf("spread %.4f exceeds hard cap %.2f (dead market)", spread, SpreadRejectThreshold),
		}
	}

	depthUSD := computeDepth(book, side, bestBid, bestAsk)

	var impact float64
	if depthUSD <= 0 {
		impact = math.Inf(1)
	} else {
		impact = notionalUSD / depthUSD
	}

	total := spread + impact + delayPenalty
	threshold := spread + 0.4*expectedEdge

	execute := !math.IsInf(total, 1) && total <= threshold
	reason := "within slippage threshold"
	if !execute {
		reason = fmt.Sprintf("total slippage %.4f exceeds threshold %.4f", total, threshold)
	}

	return Decision{
		Spread:        spread,
		DepthUSD:      depthUSD,
		Impact:        impact,
		DelayPenalty:  delayPenalty,
		TotalSlippage: total,
		Threshold:     threshold,
		ShouldExecute: execute,
		Reason:        reason,
	}
}

func computeDepth(book Book, side Side, bestBid, bestAsk float64) float64 {
	var depth float64
	if side == Buy {
		cap := math.Floor(bestAsk * 1.01)
		for _, lvl := range book.Asks {
			if float64(lvl.Tick) <= cap {
				depth += float64(lvl.Tick) / float64(tick.Scale) * lvl.Size
			}
		}
		return depth
	}
	floor := math.Floor(bestBid * 0.99)
	for _, lvl := range book.Bids {
		if float64(lvl.Tick) >= floor {
			depth += float64(lvl.Tick) / float64(tick.Scale) * lvl.Size
		}
	}
	return depth
}
