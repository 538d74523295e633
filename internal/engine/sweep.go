package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tradecopy/engine/internal/ledger"
	"github.com/tradecopy/engine/internal/lifecycle"
	"github.com/tradecopy/engine/internal/tick"
	"github.com/tradecopy/engine/internal/venue"
)

// LifecycleSweep reclassifies every open position's container and drives
// the ACTIVE/PENDING_RESOLUTION/CLOSED transitions, settling resolved
// markets through the priority arbiter.
func (e *Engine) LifecycleSweep(ctx context.Context) {
	for _, pos := range e.ledger.GetPositions() {
		container, err := e.venue.GetEventContainer(ctx, pos.MarketID)
		if err != nil {
			e.log.Logf("LIFECYCLE", "sweep %s: %v", pos.MarketID, err)
			continue
		}
		result := lifecycle.Classify(container, pos.MarketID, time.Now())

		switch result.State {
		case lifecycle.Active:
			if pos.State == ledger.StatePendingResolution {
				e.ledger.UpdatePositionState(pos.Key(), pos.Legacy(), ledger.StateOpen)
			}
		case lifecycle.PendingResolution:
			if pos.State == ledger.StateOpen {
				e.ledger.UpdatePositionState(pos.Key(), pos.Legacy(), ledger.StatePendingResolution)
			}
		case lifecycle.Closed:
			won := positionWon(result, pos)
			cause := winningCause(pos.Side, won)
			if err := e.Close(ctx, pos.MarketID, pos.Side, ledger.TriggerMarketResolution, cause, nil, pos.TokenID, pos.OutcomeLabel); err != nil {
				e.log.Logf("LIFECYCLE", "settle %s: %v", pos.MarketID, err)
			}
		}
	}
}

// positionWon determines whether a position ended up on the winning side of
// a resolved market: MULTI children report their own winningSide directly;
// SINGLE markets with a known winning label match case-insensitively;
// anything else falls back to comparing the extracted YES/NO winner against
// the position's side.
func positionWon(result lifecycle.Result, pos ledger.Position) bool {
	if result.Type == lifecycle.Multi {
		return (result.WinningSide == lifecycle.SideYES) == (pos.Side == ledger.SideYES)
	}
	if result.WinningOutcomeName != "" {
		return strings.EqualFold(result.WinningOutcomeName, pos.OutcomeLabel)
	}
	yesWon := result.Winner == lifecycle.WinnerYES
	return yesWon == (pos.Side == ledger.SideYES)
}

// winningCause picks the CloseCause that makes Close's resolution-pricing
// rule yield 999 for a winning position and 1 for a losing one, regardless
// of which side actually won: CauseWinnerYES exactly when side and won
// agree (a winning YES position or a losing NO position, i.e. YES won).
func winningCause(side ledger.Side, won bool) ledger.CloseCause {
	if (side == ledger.SideYES) == won {
		return ledger.CauseWinnerYES
	}
	return ledger.CauseWinnerNO
}

// LiquidityCheck watches each open position's bid depth and logs a warning
// after three consecutive empty-bid checks. It never forces a close: the
// engine prefers to wait for resolution over a zero-proceeds exit.
func (e *Engine) LiquidityCheck(ctx context.Context) {
	for _, pos := range e.ledger.GetPositions() {
		if pos.State != ledger.StateOpen || pos.TokenID == "" {
			continue
		}
		if cached, ok := e.ledger.GetMarketCache(pos.MarketID); ok && cached.EndTimeMs > 0 && time.Now().UnixMilli() >= cached.EndTimeMs {
			continue
		}

		book, err := e.venue.GetOrderBook(ctx, pos.TokenID)
		if err != nil {
			continue
		}

		e.liquidityMu.Lock()
		if len(book.Bids) == 0 {
			e.liquidityStreak[pos.TokenID]++
			if e.liquidityStreak[pos.TokenID] >= 3 {
				e.log.Logf("LIQUIDITY", "no bids for %s [%s] across %d consecutive checks", pos.MarketID, pos.OutcomeLabel, e.liquidityStreak[pos.TokenID])
			}
		} else {
			e.liquidityStreak[pos.TokenID] = 0
		}
		e.liquidityMu.Unlock()
	}
}

// RESTPriceFallback refreshes currentTick for any open position whose
// price-cache entry is stale or absent, by polling the order book directly.
func (e *Engine) RESTPriceFallback(ctx context.Context) {
	for _, pos := range e.ledger.GetPositions() {
		cacheKey := pos.TokenID
		if cacheKey == "" {
			cacheKey = pos.MarketID
		}
		if !e.cacheStale(cacheKey) {
			continue
		}

		quoteToken, err := e.resolveQuoteToken(pos)
		if err != nil {
			continue
		}
		book, err := e.venue.GetOrderBook(ctx, quoteToken)
		if err != nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
			continue
		}

		mid := tick.Clamp((int(book.Bids[0].Tick) + int(book.Asks[0].Tick)) / 2)
		e.cacheSet(cacheKey, mid)

		derived := mid
		if pos.MarketType == ledger.MarketMulti && pos.Side == ledger.SideNO {
			derived = tick.Invert(mid)
		}
		e.ledger.UpdateRealTimePrice(pos.MarketID, derived, pos.TokenID)
	}
}

// resolveQuoteToken returns the token whose order book should be read to
// price a position: the position's own tokenId whenever it carries one
// (except a MULTI NO position), the market's cached YES token for a legacy
// position without a tokenId, or, for a MULTI position tracked
// against its NO leg (which the venue never trades directly), another
// cached outcome token of the same market as a proxy (the venue does not
// guarantee which other leg that is).
func (e *Engine) resolveQuoteToken(pos ledger.Position) (string, error) {
	if pos.TokenID != "" && !(pos.MarketType == ledger.MarketMulti && pos.Side == ledger.SideNO) {
		return pos.TokenID, nil
	}
	cached, ok := e.ledger.GetMarketCache(pos.MarketID)
	if !ok || len(cached.ClobTokenIDs) == 0 {
		return "", fmt.Errorf("engine: no cached tokens for %s", pos.MarketID)
	}

	if pos.MarketType == ledger.MarketMulti && pos.Side == ledger.SideNO {
		for _, id := range cached.ClobTokenIDs {
			if id != pos.TokenID {
				return id, nil
			}
		}
		return "", fmt.Errorf("engine: no other-leg token for %s", pos.MarketID)
	}

	for i, label := range cached.Outcomes {
		if !isNoLabel(label) && i < len(cached.ClobTokenIDs) {
			return cached.ClobTokenIDs[i], nil
		}
	}
	return cached.ClobTokenIDs[0], nil
}

// StreamingCallback decodes one streaming book/ticker update and writes the
// derived tick through to every open position tracking that token,
// including the NO-leg proxy relationship resolveQuoteToken establishes.
func (e *Engine) StreamingCallback(update venue.BookUpdate) {
	var mid tick.Tick
	switch {
	case update.Book != nil:
		if len(update.Book.Bids) == 0 || len(update.Book.Asks) == 0 {
			return
		}
		mid = tick.Clamp((int(update.Book.Bids[0].Tick) + int(update.Book.Asks[0].Tick)) / 2)
	case update.IsPrice:
		mid = update.Price
	default:
		return
	}

	for _, pos := range e.ledger.GetPositions() {
		if pos.MarketType == ledger.MarketMulti && pos.Side == ledger.SideNO {
			if other, err := e.resolveQuoteToken(pos); err == nil && other == update.TokenID {
				derived := tick.Invert(mid)
				e.cacheSet(pos.TokenID, derived)
				e.ledger.UpdateRealTimePrice(pos.MarketID, derived, pos.TokenID)
			}
			continue
		}
		if pos.TokenID == update.TokenID {
			e.cacheSet(pos.TokenID, mid)
			e.ledger.UpdateRealTimePrice(pos.MarketID, mid, pos.TokenID)
		}
	}
}
