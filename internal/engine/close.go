package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradecopy/engine/internal/ledger"
	"github.com/tradecopy/engine/internal/retry"
	"github.com/tradecopy/engine/internal/tick"
	"github.com/tradecopy/engine/internal/venue"
)

// Close is the centralized priority arbiter. Every path that wants to end a
// position (a copy-sell, a lifecycle settlement, a dashboard manual close)
// funnels through here so concurrent triggers are resolved by a single
// priority gate rather than racing directly against the ledger.
func (e *Engine) Close(ctx context.Context, marketID string, side ledger.Side, trigger ledger.CloseTrigger, cause ledger.CloseCause, forceTick *tick.Tick, tokenID, outcomeLabel string) error {
	key := ledger.Key{MarketID: marketID, TokenID: tokenID}
	legacy := ledger.LegacyKey{MarketID: marketID, Side: side, OutcomeLabel: outcomeLabel}

	pos, ok := e.ledger.FindPosition(key, legacy)
	if !ok {
		e.log.Logf("CLOSE", "no position for market=%s side=%s outcome=%s", marketID, side, outcomeLabel)
		return nil
	}

	// CLOSING passes through: a staged close may still be overwritten by a
	// stronger trigger, which the priority gate below arbitrates.
	stateAccepts := pos.State == ledger.StateOpen ||
		pos.State == ledger.StateClosing ||
		(pos.State == ledger.StatePendingResolution && trigger == ledger.TriggerMarketResolution)
	if !stateAccepts {
		e.log.Logf("CLOSE", "ignored %s/%s: state %s does not accept trigger %s", marketID, outcomeLabel, pos.State, trigger)
		return nil
	}

	if trigger != ledger.TriggerUserAction && trigger != ledger.TriggerMarketResolution {
		if time.Since(time.UnixMilli(pos.LastEntryTime)) < e.cfg.MinHold {
			e.log.Logf("CLOSE", "ignored %s/%s: inside minimum hold window", marketID, outcomeLabel)
			return nil
		}
	}

	incoming := ledger.Priority(trigger)
	if pos.ClosePriority != 0 && incoming > pos.ClosePriority {
		e.log.Logf("CLOSE", "ignored %s/%s: priority %d weaker than staged %d", marketID, outcomeLabel, incoming, pos.ClosePriority)
		return nil
	}

	exitTick := e.resolveExitTick(ctx, pos, side, trigger, cause, forceTick)

	if !e.ledger.SetCloseIntent(key, legacy, trigger, cause, incoming) {
		return nil
	}

	marketName, slug := "", ""
	if cached, ok := e.ledger.GetMarketCache(marketID); ok {
		marketName, slug = cached.Question, cached.Slug
	}

	reason := fmt.Sprintf("%s|%s", trigger, cause)
	txHash := uuid.New().String()

	res := retry.Do(ctx, e.retryCfg, func(ctx context.Context) (bool, error) {
		ok := e.ledger.UpdatePosition(marketID, marketName, slug, side, outcomeLabel, -pos.Size, exitTick, txHash, reason, 0, 0, tokenID, pos.MarketType)
		return ok, nil
	})
	if !res.Success || !res.Data {
		e.ledger.RevertCloseIntent(key, legacy)
		e.log.Logf("CLOSE", "commit failed for %s/%s, reverted to OPEN: %v", marketID, outcomeLabel, res.Err)
		return res.Err
	}

	pnl := pos.RealizedPnL + (tick.ToFloat(exitTick)-tick.ToFloat(pos.EntryTick))*pos.Size
	e.log.Logf("CLOSE", "%s [%s] closed via %s/%s exitTick=%d pnl=%.4f", marketID, outcomeLabel, trigger, cause, exitTick, pnl)
	if e.notifier != nil {
		e.notifier.NotifyClose(ctx, marketName, trigger, cause, pnl)
	}
	e.refreshSubscription()
	return nil
}

// resolveExitTick implements the exit-tick determination rule: an explicit
// forceTick wins outright, a MARKET_RESOLUTION trigger prices purely off
// the winning side, and anything else queries a live price with a
// last-known fallback.
func (e *Engine) resolveExitTick(ctx context.Context, pos ledger.Position, side ledger.Side, trigger ledger.CloseTrigger, cause ledger.CloseCause, forceTick *tick.Tick) tick.Tick {
	if forceTick != nil {
		return tick.Clamp(int(*forceTick))
	}
	if trigger == ledger.TriggerMarketResolution {
		won := (cause == ledger.CauseWinnerYES && side == ledger.SideYES) || (cause == ledger.CauseWinnerNO && side == ledger.SideNO)
		if won {
			return tick.Max
		}
		return tick.Min
	}

	// A position tracked by its own tokenId queries that token's book
	// directly: the token already is the leg to be sold, no inversion
	// needed regardless of its legacy side label.
	if pos.TokenID != "" {
		live, err := e.venue.GetLivePrice(ctx, pos.TokenID)
		if err != nil || live == nil {
			return pos.CurrentTick
		}
		return live.BestBid
	}

	live, err := e.livePriceForLegacyPosition(ctx, pos)
	if err != nil || live == nil {
		return pos.CurrentTick
	}
	if side == ledger.SideYES {
		return live.BestBid
	}
	return tick.Clamp(tick.Scale - int(live.BestAsk))
}

// livePriceForLegacyPosition resolves the market's YES-leg token from
// cached metadata and queries its book, for positions that predate
// per-outcome token tracking.
func (e *Engine) livePriceForLegacyPosition(ctx context.Context, pos ledger.Position) (*venue.LivePrice, error) {
	cached, ok := e.ledger.GetMarketCache(pos.MarketID)
	if !ok {
		return nil, fmt.Errorf("engine: no cached market for %s", pos.MarketID)
	}
	yesToken := ""
	for i, label := range cached.Outcomes {
		if !isNoLabel(label) && i < len(cached.ClobTokenIDs) {
			yesToken = cached.ClobTokenIDs[i]
			break
		}
	}
	if yesToken == "" {
		return nil, fmt.Errorf("engine: no yes token cached for %s", pos.MarketID)
	}
	return e.venue.GetLivePrice(ctx, yesToken)
}
