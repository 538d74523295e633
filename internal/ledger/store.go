package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tradecopy/engine/internal/tick"
)

// TradeEventSink receives every TradeEvent as it is appended, in addition to
// it being persisted on the ledger itself. Used to mirror trade events into
// the daily trade CSV without coupling the ledger to that format.
type TradeEventSink interface {
	OnTradeEvent(ev TradeEvent)
}

// Store is the single mutation owner for a Ledger. All writers must go
// through Store's methods; read accessors return lock-scoped snapshots that
// are safe to use after the call returns.
type Store struct {
	mu   sync.Mutex
	path string
	l    *Ledger
	sink TradeEventSink
}

// SetTradeEventSink installs (or clears, with nil) the optional trade event
// sink. It takes the store's mutex, so it is serialized with ledger
// mutations.
func (s *Store) SetTradeEventSink(sink TradeEventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Open loads path if it exists, or starts a fresh ledger at
// DefaultStartingBalance. An unreadable or corrupt file is treated as
// "start clean" per the bootstrap recovery rule, never as a fatal error.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}

	s := &Store{path: path, l: newLedger()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, nil // unreadable: start fresh rather than abort
	}

	var loaded Ledger
	if err := json.Unmarshal(data, &loaded); err != nil {
		return s, nil // corrupt: start fresh
	}
	sanitize(&loaded)
	s.l = &loaded
	return s, nil
}

// sanitize coerces unknown enum values loaded from disk to safe defaults
// and ensures map fields are non-nil.
func sanitize(l *Ledger) {
	if l.Positions == nil {
		l.Positions = make(map[string]Position)
	}
	if l.MarketCache == nil {
		l.MarketCache = make(map[string]MarketCacheEntry)
	}
	if l.ProcessedTxHashes == nil {
		l.ProcessedTxHashes = make(map[string]bool)
	}
	for k, p := range l.Positions {
		p.State = coerceState(p.State)
		p.CloseTrigger = coerceTrigger(p.CloseTrigger)
		l.Positions[k] = p
	}
}

// save atomically rewrites the backing file: write-temp then rename.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.l, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("ledger: write temp: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Save exposes an atomic persist for explicit flush points (shutdown).
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// GetBalance returns the current cash balance.
func (s *Store) GetBalance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.Balance
}

// GetPositions returns a snapshot of all open positions.
func (s *Store) GetPositions() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.l.Positions))
	for _, p := range s.l.Positions {
		out = append(out, p)
	}
	return out
}

// GetClosedPositions returns a snapshot of all closed positions.
func (s *Store) GetClosedPositions() []ClosedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClosedPosition, len(s.l.ClosedPositions))
	copy(out, s.l.ClosedPositions)
	return out
}

// GetTradeEvents returns a snapshot of the trade-event log.
func (s *Store) GetTradeEvents() []TradeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TradeEvent, len(s.l.TradeEvents))
	copy(out, s.l.TradeEvents)
	return out
}

// GetMarketCache returns the cached metadata for a market, if present.
func (s *Store) GetMarketCache(marketID string) (MarketCacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.l.MarketCache[marketID]
	return e, ok
}

// UpdateMarketCache stores normalized market metadata. A seconds-precision
// endTime (< 10^10) is normalized to milliseconds.
func (s *Store) UpdateMarketCache(marketID, question, slug string, outcomes, clobTokenIDs []string, endTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if endTime > 0 && endTime < 10_000_000_000 {
		endTime *= 1000
	}
	s.l.MarketCache[marketID] = MarketCacheEntry{
		MarketID:     marketID,
		Question:     question,
		Slug:         slug,
		Outcomes:     outcomes,
		ClobTokenIDs: clobTokenIDs,
		EndTimeMs:    endTime,
	}
	return s.save()
}

// UpdateRealTimePrice refreshes derived fields on any matching open
// position. The Store keeps no price cache of its own; the engine maintains
// that cache and calls this afterwards.
//
// tokenID, when non-empty, matches multi-outcome positions exactly.
// Legacy binary positions lacking a tokenID derive their tick from the
// market-level update: tick on YES, 1000-tick on NO.
func (s *Store) UpdateRealTimePrice(marketID string, t tick.Tick, tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for key, p := range s.l.Positions {
		if p.MarketID != marketID {
			continue
		}
		var derived tick.Tick
		switch {
		case tokenID != "" && p.TokenID == tokenID:
			derived = t
		case p.TokenID == "" && p.Side == SideYES:
			derived = t
		case p.TokenID == "" && p.Side == SideNO:
			derived = tick.Invert(t)
		default:
			continue
		}
		p.CurrentTick = derived
		p.CurrentValue = p.Size * tick.ToFloat(derived)
		p.UnrealizedPnL = p.CurrentValue - p.InvestedUSD
		s.l.Positions[key] = p
		changed = true
	}
	if changed {
		_ = s.save()
	}
}

// IsProcessed reports whether txHash has already been applied to the
// ledger, so a caller can skip re-replicating a trade it has already seen.
func (s *Store) IsProcessed(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l.ProcessedTxHashes[txHash]
}

// ParsedReason splits an actionReason of the form "TRIGGER|CAUSE".
func ParsedReason(reason string) (CloseTrigger, CloseCause) {
	parts := strings.SplitN(reason, "|", 2)
	trigger := CloseTrigger(parts[0])
	var cause CloseCause
	if len(parts) > 1 {
		cause = CloseCause(parts[1])
	}
	return trigger, cause
}

// UpdatePosition applies a signed-share mutation (positive=buy,
// negative=sell) to the position at (marketID, tokenID) or the legacy key
// (marketID, side, outcomeLabel). It returns false when the mutation is
// rejected: duplicate txHash, orphan sell, insolvency, or missing position
// on a sell.
func (s *Store) UpdatePosition(
	marketID, marketName, slug string,
	side Side,
	outcomeLabel string,
	signedShares float64,
	t tick.Tick,
	txHash string,
	actionReason string,
	sourceTick tick.Tick,
	latencyMs int64,
	tokenID string,
	marketType MarketType,
) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txHash != "" && s.l.ProcessedTxHashes[txHash] {
		return false
	}

	legacy := legacyMapKey(LegacyKey{MarketID: marketID, Side: side, OutcomeLabel: outcomeLabel})

	// The canonical key requires a tokenId. Without one, the position can
	// only be addressed by its legacy (marketId, side, outcomeLabel) key -
	// using canonicalMapKey with an empty tokenId here would collapse every
	// outcome of the same market onto one map entry.
	key := legacy
	if tokenID != "" {
		key = canonicalMapKey(Key{MarketID: marketID, TokenID: tokenID})
	}

	pos, exists := s.l.Positions[key]
	if !exists && tokenID != "" {
		if lp, ok := s.l.Positions[legacy]; ok {
			pos = lp
			pos.TokenID = tokenID
			exists = true
			delete(s.l.Positions, legacy)
		}
	}

	trigger, _ := ParsedReason(actionReason)
	isResolution := trigger == TriggerMarketResolution || strings.Contains(strings.ToUpper(actionReason), "RESOLUTION")

	if signedShares < 0 && !exists && !isResolution {
		s.markProcessed(txHash)
		return false
	}

	now := time.Now().UnixMilli()

	if signedShares > 0 {
		notional := signedShares * tick.ToFloat(t)
		if s.l.Balance < notional {
			s.markProcessed(txHash)
			return false
		}
		s.l.Balance -= notional

		if !exists {
			pos = Position{
				MarketID:      marketID,
				TokenID:       tokenID,
				Side:          side,
				OutcomeLabel:  outcomeLabel,
				MarketType:    marketType,
				EntryTick:     t,
				State:         StateOpen,
				LastEntryTime: now,
			}
		}
		oldCost := pos.InvestedUSD
		oldShares := pos.Size
		newCost := notional
		newShares := signedShares
		totalShares := oldShares + newShares
		// A new position keeps the execution tick; only a scale-in
		// re-averages (notional/shares can land just under a grid point).
		if exists && totalShares > 0 {
			pos.EntryTick = tick.FromFloat((oldCost + newCost) / totalShares)
		}
		pos.Size = totalShares
		pos.InvestedUSD = oldCost + newCost
		pos.State = StateOpen
		pos.LastEntryTime = now
		s.l.Positions[key] = pos

		s.appendTradeEvent(TradeEvent{
			TxHash: txHash, Type: TradeBuy, MarketID: marketID, MarketName: marketName,
			TokenID: tokenID, Side: side, OutcomeLabel: outcomeLabel, Size: signedShares,
			Tick: t, SourceTick: sourceTick, LatencyMs: latencyMs, Reason: actionReason, Timestamp: now,
		})
	} else if signedShares < 0 {
		if !exists || (pos.State != StateOpen && pos.State != StateClosing) {
			s.markProcessed(txHash)
			return false
		}
		sellShares := -signedShares
		costBasis := tick.ToFloat(pos.EntryTick) * sellShares
		proceeds := tick.ToFloat(t) * sellShares
		pnl := proceeds - costBasis

		investedBefore := pos.InvestedUSD

		s.l.Balance += proceeds
		pos.Size -= sellShares
		pos.InvestedUSD -= costBasis
		pos.RealizedPnL += pnl

		closeTrigger, closeCause := ParsedReason(actionReason)

		if pos.Size < 0.1 {
			s.l.ClosedPositions = append(s.l.ClosedPositions, ClosedPosition{
				MarketID: marketID, TokenID: tokenID, Side: side, OutcomeLabel: outcomeLabel,
				EntryTick: pos.EntryTick, ExitTick: t, InvestedUSD: investedBefore,
				ReturnUSD: proceeds, RealizedPnL: pos.RealizedPnL,
				CloseTrigger: closeTrigger, CloseCause: closeCause, CloseTimestamp: now,
			})
			delete(s.l.Positions, key)
		} else {
			s.l.Positions[key] = pos
		}

		if !strings.Contains(strings.ToUpper(actionReason), "RESOLUTION") {
			s.appendTradeEvent(TradeEvent{
				TxHash: txHash, Type: TradeSell, MarketID: marketID, MarketName: marketName,
				TokenID: tokenID, Side: side, OutcomeLabel: outcomeLabel, Size: sellShares,
				Tick: t, SourceTick: sourceTick, LatencyMs: latencyMs, Reason: actionReason, Timestamp: now,
			})
		}
	}

	s.markProcessed(txHash)
	_ = s.save()
	return true
}

func (s *Store) appendTradeEvent(ev TradeEvent) {
	s.l.TradeEvents = append(s.l.TradeEvents, ev)
	if s.sink != nil {
		s.sink.OnTradeEvent(ev)
	}
}

func (s *Store) markProcessed(txHash string) {
	if txHash == "" {
		return
	}
	s.l.ProcessedTxHashes[txHash] = true
}

// resolveExistingKey returns the map key actually holding the position
// identified by key or legacy: the canonical key if present there, else the
// legacy key. ok is false if neither holds a position.
func (s *Store) resolveExistingKey(key Key, legacy LegacyKey) (string, bool) {
	ck := canonicalMapKey(key)
	if _, ok := s.l.Positions[ck]; ok {
		return ck, true
	}
	lk := legacyMapKey(legacy)
	if _, ok := s.l.Positions[lk]; ok {
		return lk, true
	}
	return "", false
}

// UpdatePositionState sets a position's state directly (used by the
// lifecycle sweep for the OPEN/PENDING_RESOLUTION transitions; the priority
// arbiter uses SetCloseIntent/RevertCloseIntent instead).
// legacy is consulted when the canonical key isn't found, so positions
// predating per-outcome token tracking remain reachable.
func (s *Store) UpdatePositionState(key Key, legacy LegacyKey, newState PositionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.resolveExistingKey(key, legacy)
	if !ok {
		return
	}
	p := s.l.Positions[k]
	p.State = newState
	s.l.Positions[k] = p
	_ = s.save()
}

// SetCloseIntent stages the transient CLOSING fields ahead of a commit, used
// by the priority arbiter before attempting the ledger mutation. Returns
// false if the position was not found under either key.
func (s *Store) SetCloseIntent(key Key, legacy LegacyKey, trigger CloseTrigger, cause CloseCause, priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.resolveExistingKey(key, legacy)
	if !ok {
		return false
	}
	p := s.l.Positions[k]
	p.State = StateClosing
	p.CloseTrigger = trigger
	p.CloseCause = cause
	p.ClosePriority = priority
	s.l.Positions[k] = p
	_ = s.save()
	return true
}

// RevertCloseIntent undoes SetCloseIntent after a failed commit so a
// higher-priority trigger may retry.
func (s *Store) RevertCloseIntent(key Key, legacy LegacyKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.resolveExistingKey(key, legacy)
	if !ok {
		return
	}
	p := s.l.Positions[k]
	p.State = StateOpen
	p.CloseTrigger = ""
	p.CloseCause = ""
	p.ClosePriority = 0
	s.l.Positions[k] = p
	_ = s.save()
}

// FindPosition resolves a position by canonical key, falling back to the
// legacy key.
func (s *Store) FindPosition(key Key, legacy LegacyKey) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.l.Positions[canonicalMapKey(key)]; ok {
		return p, true
	}
	if p, ok := s.l.Positions[legacyMapKey(legacy)]; ok {
		return p, true
	}
	return Position{}, false
}

// DailyRealizedPnL sums realized PnL for closed positions whose
// closeTimestamp falls on the same UTC calendar day as now.
func (s *Store) DailyRealizedPnL(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := now.UTC().Date()
	var sum float64
	for _, cp := range s.l.ClosedPositions {
		t := time.UnixMilli(cp.CloseTimestamp).UTC()
		ty, tm, td := t.Date()
		if ty == y && tm == m && td == d {
			sum += cp.RealizedPnL
		}
	}
	return sum
}

// AllTimeRealizedPnL sums realized PnL across every closed position.
func (s *Store) AllTimeRealizedPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, cp := range s.l.ClosedPositions {
		sum += cp.RealizedPnL
	}
	return sum
}

// TotalUnrealizedPnL sums unrealized PnL across all open positions.
func (s *Store) TotalUnrealizedPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, p := range s.l.Positions {
		sum += p.UnrealizedPnL
	}
	return sum
}
