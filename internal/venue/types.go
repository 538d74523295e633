// Package venue is the typed client for the prediction-market venue: user
// activity, market metadata, order books, and the streaming book channel.
// Every exported operation is best-effort: on failure it returns a typed
// zero value and an error and never panics. The engine wraps only the
// market-metadata fetch (GetMarketDetails) in internal/retry; activity,
// order-book, live-price and container calls are made once per use.
package venue

import "github.com/tradecopy/engine/internal/tick"

// TradeSide is the direction of a raw activity entry.
type TradeSide string

const (
	Buy  TradeSide = "BUY"
	Sell TradeSide = "SELL"
)

// RawTrade is one entry from the user-activity feed.
type RawTrade struct {
	ID           string
	TxHash       string
	TimestampSec int64
	Type         string
	Outcome      string
	Size         float64
	Price        float64
	MarketID     string
	Side         TradeSide
}

// Outcome is one leg of a market, aligned by index with its token id.
type Outcome struct {
	TokenID   string
	Label     string
	TickPrice tick.Tick
	HasPrice  bool
}

// MarketType distinguishes binary from multi-outcome markets.
type MarketType string

const (
	Binary MarketType = "binary"
	Multi  MarketType = "multi"
)

// Market is the normalized venue market/event container.
type Market struct {
	MarketID      string
	Question      string
	Slug          string
	EndTimeMs     int64
	HasEndTime    bool
	Type          MarketType
	Outcomes      []Outcome
	IsResolved    bool
	WinnerTokenID string
}

// BookLevel is one price/size rung.
type BookLevel struct {
	Tick tick.Tick
	Size float64
}

// OrderBook is a two-sided book: bids descending, asks ascending.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// LivePrice is the best bid/ask/mid derived from one token's book.
type LivePrice struct {
	BestBid tick.Tick
	BestAsk tick.Tick
	MidTick tick.Tick
}

// BookUpdate is one decoded entry from the streaming channel.
type BookUpdate struct {
	TokenID string
	Book    *OrderBook // set when the update carries a full book
	Price   tick.Tick  // set when the update is a ticker-style {price}
	IsPrice bool
}
