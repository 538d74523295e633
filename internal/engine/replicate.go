package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tradecopy/engine/internal/ledger"
	"github.com/tradecopy/engine/internal/lifecycle"
	"github.com/tradecopy/engine/internal/retry"
	"github.com/tradecopy/engine/internal/slippage"
	"github.com/tradecopy/engine/internal/tick"
	"github.com/tradecopy/engine/internal/venue"
)

// yesSynonyms and noSynonyms resolve a source activity's free-text outcome
// label to a binary leg when it doesn't exactly match a venue label.
var yesSynonyms = map[string]bool{"YES": true, "1": true, "TRUE": true, "UP": true, "PASS": true}
var noSynonyms = map[string]bool{"NO": true, "0": true, "FALSE": true, "DOWN": true, "FAIL": true}

// Replicate maps one observed source trade into a paper trade: filtering,
// outcome resolution, execution pricing, sizing, risk gates, and finally a
// ledger commit (buys) or a delegated Close (sells).
func (e *Engine) Replicate(ctx context.Context, trade venue.RawTrade) error {
	tsMs := trade.TimestampSec * 1000
	if tsMs < e.startupCursorMs {
		return nil
	}
	if e.ledger.IsProcessed(trade.TxHash) {
		return nil
	}
	if e.blackl.IsBlacklisted(trade.MarketID) {
		return nil
	}

	market, err := e.marketFor(ctx, trade.MarketID)
	if err != nil || market == nil {
		e.log.Logf("TRADE", "skip %s: market metadata unavailable: %v", trade.TxHash, err)
		return nil
	}

	marketType := ledger.MarketSingle
	if container, cerr := e.venue.GetEventContainer(ctx, trade.MarketID); cerr == nil {
		if lifecycle.Classify(container, trade.MarketID, time.Now()).Type == lifecycle.Multi {
			marketType = ledger.MarketMulti
		}
	} else if market.Type == venue.Multi {
		marketType = ledger.MarketMulti
	}

	outcome, ok := selectOutcome(market, trade.Outcome)
	if !ok {
		e.log.Logf("TRADE", "skip %s: unresolved outcome %q", trade.TxHash, trade.Outcome)
		return nil
	}
	side := sideForOutcome(market.Type, outcome.Label)

	isBuy := trade.Side == venue.Buy
	book, _ := e.venue.GetOrderBook(ctx, outcome.TokenID)
	execTick := executionTick(book, isBuy, trade.Price)

	if execTick >= maxTickGuard {
		time.Sleep(e.cfg.MaxTickWait)
		book, _ = e.venue.GetOrderBook(ctx, outcome.TokenID)
		execTick = executionTick(book, isBuy, trade.Price)
		if execTick >= maxTickGuard {
			e.log.Logf("TRADE", "skip %s: max-tick guard still saturated at %d", trade.TxHash, execTick)
			if e.notifier != nil {
				e.notifier.NotifyAlert(ctx, fmt.Sprintf("max-tick guard exhausted for %s, trade %s skipped", trade.MarketID, trade.TxHash))
			}
			return nil
		}
	}

	settings := e.settings.Get()
	shares := sizeTrade(settings, trade.Size, execTick, e.cfg.MinOrderSizeShares)

	if isBuy {
		return e.commitBuy(ctx, trade, market, outcome, side, marketType, execTick, shares)
	}
	return e.commitSell(ctx, trade, outcome, side, execTick, shares)
}

func selectOutcome(market *venue.Market, sourceOutcome string) (venue.Outcome, bool) {
	upper := strings.ToUpper(strings.TrimSpace(sourceOutcome))
	for _, o := range market.Outcomes {
		if strings.ToUpper(o.Label) == upper {
			return o, true
		}
	}
	if market.Type != venue.Binary {
		return venue.Outcome{}, false
	}

	var wantYes bool
	switch {
	case yesSynonyms[upper]:
		wantYes = true
	case noSynonyms[upper]:
		wantYes = false
	default:
		return venue.Outcome{}, false
	}
	for _, o := range market.Outcomes {
		if isNoLabel(o.Label) == !wantYes {
			return o, true
		}
	}
	return venue.Outcome{}, false
}

func isNoLabel(label string) bool {
	return noSynonyms[strings.ToUpper(label)]
}

// sideForOutcome derives the canonical binary side for the selected
// outcome. Multi-outcome markets trade every leg as its own YES token.
func sideForOutcome(marketType venue.MarketType, label string) ledger.Side {
	if marketType == venue.Binary && isNoLabel(label) {
		return ledger.SideNO
	}
	return ledger.SideYES
}

func executionTick(book *venue.OrderBook, isBuy bool, sourcePrice float64) tick.Tick {
	if book != nil && len(book.Bids) > 0 && len(book.Asks) > 0 {
		if isBuy {
			return book.Asks[0].Tick
		}
		return book.Bids[0].Tick
	}
	return tick.FromFloat(sourcePrice)
}

func sizeTrade(settings TradeSettings, sourceSize float64, execTick tick.Tick, minShares float64) float64 {
	var shares float64
	switch settings.Mode {
	case SizingFixed:
		denom := math.Max(float64(execTick), 10) / float64(tick.Scale)
		shares = settings.FixedAmountUSD / denom
	default:
		shares = sourceSize * settings.Percentage
	}
	if shares < minShares {
		shares = minShares
	}
	return shares
}

// marketFor resolves normalized market metadata, preferring the ledger's
// cache and falling back to a retried venue fetch that refreshes it.
func (e *Engine) marketFor(ctx context.Context, marketID string) (*venue.Market, error) {
	if cached, ok := e.ledger.GetMarketCache(marketID); ok && len(cached.Outcomes) > 0 {
		return cachedToMarket(cached), nil
	}

	res := retry.Do(ctx, e.retryCfg, func(ctx context.Context) (*venue.Market, error) {
		return e.venue.GetMarketDetails(ctx, marketID)
	})
	if !res.Success || res.Data == nil {
		return nil, res.Err
	}
	m := res.Data
	_ = e.ledger.UpdateMarketCache(m.MarketID, m.Question, m.Slug, outcomeLabels(m.Outcomes), outcomeTokenIDs(m.Outcomes), m.EndTimeMs)
	return m, nil
}

func cachedToMarket(c ledger.MarketCacheEntry) *venue.Market {
	outs := make([]venue.Outcome, 0, len(c.Outcomes))
	for i, label := range c.Outcomes {
		o := venue.Outcome{Label: label}
		if i < len(c.ClobTokenIDs) {
			o.TokenID = c.ClobTokenIDs[i]
		}
		outs = append(outs, o)
	}
	mtype := venue.Multi
	if len(outs) == 2 {
		mtype = venue.Binary
	}
	return &venue.Market{
		MarketID:   c.MarketID,
		Question:   c.Question,
		Slug:       c.Slug,
		EndTimeMs:  c.EndTimeMs,
		HasEndTime: c.EndTimeMs > 0,
		Type:       mtype,
		Outcomes:   outs,
	}
}

func outcomeLabels(outs []venue.Outcome) []string {
	out := make([]string, len(outs))
	for i, o := range outs {
		out[i] = o.Label
	}
	return out
}

func outcomeTokenIDs(outs []venue.Outcome) []string {
	out := make([]string, len(outs))
	for i, o := range outs {
		out[i] = o.TokenID
	}
	return out
}

// commitBuy runs the slippage gate (when enabled) and, on pass, commits the
// position open/scale-in via a retried ledger write.
func (e *Engine) commitBuy(ctx context.Context, trade venue.RawTrade, market *venue.Market, outcome venue.Outcome, side ledger.Side, marketType ledger.MarketType, execTick tick.Tick, shares float64) error {
	if e.cfg.SkipActivePositions {
		key := ledger.Key{MarketID: trade.MarketID, TokenID: outcome.TokenID}
		legacy := ledger.LegacyKey{MarketID: trade.MarketID, Side: side, OutcomeLabel: outcome.Label}
		if pos, ok := e.ledger.FindPosition(key, legacy); ok && pos.State == ledger.StateOpen {
			e.log.Logf("TRADE", "skip %s: already holding an active position in %s [%s]", trade.TxHash, trade.MarketID, outcome.Label)
			return nil
		}
	}
	if e.cfg.EnableTradeFilters && e.cfg.ExpectedEdge > 0 {
		if book, _ := e.venue.GetOrderBook(ctx, outcome.TokenID); book != nil {
			notional := shares * tick.ToFloat(execTick)
			dec := slippage.Estimate(toSlippageBook(book), notional, slippage.Buy, e.cfg.ExpectedEdge, e.cfg.SlippageDelayPenalty)
			if !dec.ShouldExecute {
				e.log.Logf("TRADE", "skip %s: slippage reject: %s", trade.TxHash, dec.Reason)
				return nil
			}
		}
	}

	sourceTick := tick.FromFloat(trade.Price)
	latencyMs := time.Now().UnixMilli() - trade.TimestampSec*1000
	if latencyMs < 0 {
		latencyMs = 0
	}

	res := retry.Do(ctx, e.retryCfg, func(ctx context.Context) (bool, error) {
		ok := e.ledger.UpdatePosition(trade.MarketID, market.Question, market.Slug, side, outcome.Label, shares, execTick, trade.TxHash, "COPY_TRADE", sourceTick, latencyMs, outcome.TokenID, marketType)
		return ok, nil
	})
	if res.Success && res.Data {
		e.log.Logf("TRADE", "BUY %s [%s] shares=%.4f tick=%d", market.Question, outcome.Label, shares, execTick)
		e.refreshSubscription()
	}
	return res.Err
}

// commitSell runs the loss-guard and slippage gates, then delegates the
// actual close to the priority arbiter: a copy-sell always closes the full
// remaining position, never a partial slice.
func (e *Engine) commitSell(ctx context.Context, trade venue.RawTrade, outcome venue.Outcome, side ledger.Side, execTick tick.Tick, shares float64) error {
	key := ledger.Key{MarketID: trade.MarketID, TokenID: outcome.TokenID}
	legacy := ledger.LegacyKey{MarketID: trade.MarketID, Side: side, OutcomeLabel: outcome.Label}
	pos, ok := e.ledger.FindPosition(key, legacy)
	if !ok {
		e.log.Logf("TRADE", "skip sell %s: no open position", trade.TxHash)
		return nil
	}

	sellShares := shares
	if sellShares > pos.Size {
		sellShares = pos.Size
	}
	if sellShares <= 0 {
		return nil
	}

	if e.cfg.EnableTradeFilters && pos.EntryTick > 0 {
		lossPct := (float64(pos.EntryTick) - float64(execTick)) / float64(pos.EntryTick)
		if lossPct > 0.10 {
			e.log.Logf("TRADE", "skip sell %s: loss guard %.2f%%", trade.TxHash, lossPct*100)
			return nil
		}
	}
	if e.cfg.EnableTradeFilters && e.cfg.ExpectedEdge > 0 {
		if book, _ := e.venue.GetOrderBook(ctx, outcome.TokenID); book != nil {
			notional := sellShares * tick.ToFloat(execTick)
			dec := slippage.Estimate(toSlippageBook(book), notional, slippage.Sell, e.cfg.ExpectedEdge, e.cfg.SlippageDelayPenalty)
			if !dec.ShouldExecute {
				e.log.Logf("TRADE", "skip sell %s: slippage reject: %s", trade.TxHash, dec.Reason)
				return nil
			}
		}
	}

	t := execTick
	return e.Close(ctx, trade.MarketID, side, ledger.TriggerCopyTraderEvent, ledger.CauseTargetSelloff, &t, outcome.TokenID, outcome.Label)
}

func toSlippageBook(book *venue.OrderBook) slippage.Book {
	b := slippage.Book{
		Bids: make([]slippage.Level, len(book.Bids)),
		Asks: make([]slippage.Level, len(book.Asks)),
	}
	for i, l := range book.Bids {
		b.Bids[i] = slippage.Level{Tick: l.Tick, Size: l.Size}
	}
	for i, l := range book.Asks {
		b.Asks[i] = slippage.Level{Tick: l.Tick, Size: l.Size}
	}
	return b
}
