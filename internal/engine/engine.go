// Package engine is the replication and lifecycle engine: the control loop
// that maps source-account activity into paper trades and arbitrates
// concurrent close intents on a position.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradecopy/engine/internal/blacklist"
	"github.com/tradecopy/engine/internal/ledger"
	"github.com/tradecopy/engine/internal/lifecycle"
	"github.com/tradecopy/engine/internal/retry"
	"github.com/tradecopy/engine/internal/tick"
	"github.com/tradecopy/engine/internal/venue"
)

// VenueClient is the subset of venue.Client the engine depends on. A
// *venue.Client satisfies it structurally; tests supply a fake.
type VenueClient interface {
	GetUserActivity(ctx context.Context, address string, limit int) ([]venue.RawTrade, error)
	GetMarketDetails(ctx context.Context, marketID string) (*venue.Market, error)
	GetEventContainer(ctx context.Context, marketID string) (lifecycle.Container, error)
	GetOrderBook(ctx context.Context, tokenID string) (*venue.OrderBook, error)
	GetLivePrice(ctx context.Context, tokenID string) (*venue.LivePrice, error)
	SubscribeOrderbook(tokenIDs []string, handler venue.Handler) error
	CloseSubscription()
	CurrentHoldings(ctx context.Context, addr common.Address) ([]string, error)
}

// Logger is the category-tagged audit sink the engine writes every
// observable event through.
type Logger interface {
	Logf(category, format string, args ...interface{})
}

// Notifier is an optional out-of-band alert channel for closes and
// emergencies. A nil Notifier is valid; callers must nil-check.
type Notifier interface {
	NotifyClose(ctx context.Context, marketQuestion string, trigger ledger.CloseTrigger, cause ledger.CloseCause, pnl float64)
	NotifyAlert(ctx context.Context, msg string)
}

type cacheEntry struct {
	tick tick.Tick
	at   time.Time
}

// Engine is the replication and lifecycle control loop. One instance per
// process owns the ledger, blacklist, venue client, and settings store; all
// of it is wired explicitly by the composition root, never through
// package-level state.
type Engine struct {
	cfg      Config
	address  string
	ledger   *ledger.Store
	blackl   *blacklist.List
	venue    VenueClient
	settings *SettingsStore
	log      Logger
	notifier Notifier
	retryCfg retry.Config

	mu              sync.Mutex
	running         bool
	stopCh          chan struct{}
	doneCh          chan struct{}
	startupCursorMs int64
	tickCount       int64

	priceMu    sync.Mutex
	priceCache map[string]cacheEntry

	liquidityMu     sync.Mutex
	liquidityStreak map[string]int

	subMu            sync.Mutex
	subscribedTokens map[string]struct{}
	lastSubRefresh   time.Time
}

// New builds an Engine. notifier may be nil.
func New(cfg Config, address string, l *ledger.Store, bl *blacklist.List, v VenueClient, settings *SettingsStore, logger Logger, notifier Notifier) *Engine {
	return &Engine{
		cfg:              cfg,
		address:          address,
		ledger:           l,
		blackl:           bl,
		venue:            v,
		settings:         settings,
		log:              logger,
		notifier:         notifier,
		retryCfg:         retry.DefaultConfig(),
		priceCache:       make(map[string]cacheEntry),
		liquidityStreak:  make(map[string]int),
		subscribedTokens: make(map[string]struct{}),
	}
}

// Status is the read-only snapshot the dashboard renders.
type Status struct {
	Running            bool
	ProfileAddress     string
	Balance            float64
	DailyRealizedPnL   float64
	AllTimeRealizedPnL float64
	TotalUnrealizedPnL float64
}

// Start seeds the blacklist, opens the initial streaming subscription, and
// launches the main loop in a background goroutine. Returns an error if the
// engine is already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine: already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	if e.cfg.StartFromNow {
		e.startupCursorMs = time.Now().UnixMilli()
	} else {
		e.startupCursorMs = time.Now().Add(-10 * time.Minute).UnixMilli()
	}

	if err := e.seedBlacklist(ctx); err != nil {
		e.log.Logf("BOOT", "blacklist seed skipped: %v", err)
	}
	e.refreshSubscription()
	e.lastSubRefresh = time.Now()

	go e.loop(ctx)
	e.log.Logf("BOOT", "engine started for %s, cursor=%d", e.address, e.startupCursorMs)
	return nil
}

// Stop signals the main loop to exit and blocks until it has, then tears
// down the streaming subscription. Safe to call on a stopped engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	<-doneCh

	e.venue.CloseSubscription()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.log.Logf("SHUTDOWN", "engine stopped")
}

// Status returns a snapshot of the engine's running state and ledger
// totals, safe to call concurrently with the main loop.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	return Status{
		Running:            running,
		ProfileAddress:     e.address,
		Balance:            e.ledger.GetBalance(),
		DailyRealizedPnL:   e.ledger.DailyRealizedPnL(time.Now()),
		AllTimeRealizedPnL: e.ledger.AllTimeRealizedPnL(),
		TotalUnrealizedPnL: e.ledger.TotalUnrealizedPnL(),
	}
}

// CloseAll issues a USER_ACTION close against every open position.
func (e *Engine) CloseAll(ctx context.Context) {
	for _, p := range e.ledger.GetPositions() {
		if err := e.Close(ctx, p.MarketID, p.Side, ledger.TriggerUserAction, ledger.CauseManual, nil, p.TokenID, p.OutcomeLabel); err != nil {
			e.log.Logf("CLOSE", "close-all %s: %v", p.MarketID, err)
		}
	}
}

// ManualClose issues a single USER_ACTION close, used by the dashboard's
// /api/close endpoint.
func (e *Engine) ManualClose(ctx context.Context, marketID string, side ledger.Side, tokenID, outcomeLabel string) error {
	return e.Close(ctx, marketID, side, ledger.TriggerUserAction, ledger.CauseManual, nil, tokenID, outcomeLabel)
}

// GetTradeSettings returns the current sizing settings.
func (e *Engine) GetTradeSettings() TradeSettings {
	return e.settings.Get()
}

// SetTradeSettings persists new sizing settings.
func (e *Engine) SetTradeSettings(s TradeSettings) error {
	return e.settings.Set(s)
}

// seedBlacklist scans the source account's current real holdings and
// blacklists every market id not already held in the paper ledger, so the
// engine never double-copies into a market the real account is in.
func (e *Engine) seedBlacklist(ctx context.Context) error {
	addr := common.HexToAddress(e.address)
	ids, err := e.venue.CurrentHoldings(ctx, addr)
	if err != nil {
		return err
	}
	positions := e.ledger.GetPositions()
	held := func(marketID string) bool {
		for _, p := range positions {
			if p.MarketID == marketID {
				return true
			}
		}
		return false
	}
	return e.blackl.Initialize(ids, held)
}

// refreshSubscription re-derives the set of token ids worth streaming (one
// per open position carrying a tokenId) and re-subscribes only when the set
// actually changed.
func (e *Engine) refreshSubscription() {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	wanted := make(map[string]struct{})
	for _, p := range e.ledger.GetPositions() {
		if p.TokenID != "" {
			wanted[p.TokenID] = struct{}{}
		}
	}
	if tokenSetEqual(wanted, e.subscribedTokens) {
		return
	}

	if len(wanted) == 0 {
		e.venue.CloseSubscription()
		e.subscribedTokens = wanted
		return
	}

	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	if err := e.venue.SubscribeOrderbook(ids, e.StreamingCallback); err != nil {
		e.log.Logf("ENGINE", "subscribe failed: %v", err)
		return
	}
	e.subscribedTokens = wanted
}

func tokenSetEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (e *Engine) cacheGet(key string) (cacheEntry, bool) {
	e.priceMu.Lock()
	defer e.priceMu.Unlock()
	c, ok := e.priceCache[key]
	return c, ok
}

func (e *Engine) cacheSet(key string, t tick.Tick) {
	e.priceMu.Lock()
	defer e.priceMu.Unlock()
	e.priceCache[key] = cacheEntry{tick: t, at: time.Now()}
}

func (e *Engine) cacheStale(key string) bool {
	c, ok := e.cacheGet(key)
	if !ok {
		return true
	}
	return time.Since(c.at) > priceStaleAfter
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		e.runTick(ctx)

		select {
		case <-e.stopCh:
			return
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// runTick is one pass of the main loop. A panic anywhere inside is caught
// so a single bad tick never takes the process down; the loop resumes on
// the next interval.
func (e *Engine) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Logf("CRASH", "recovered in main loop: %v", r)
		}
	}()

	e.tickCount++

	trades, err := e.venue.GetUserActivity(ctx, e.address, 10)
	if err != nil {
		e.log.Logf("ERROR", "get user activity: %v", err)
	} else {
		for i := len(trades) - 1; i >= 0; i-- {
			trade := trades[i]
			if !strings.EqualFold(trade.Type, "TRADE") {
				continue
			}
			if err := e.Replicate(ctx, trade); err != nil {
				e.log.Logf("ERROR", "replicate %s: %v", trade.TxHash, err)
			}
		}
	}

	if e.tickCount%lifecycleSweepEvery == 0 {
		e.LifecycleSweep(ctx)
	}
	if e.tickCount%liquidityCheckEvery == 0 {
		e.LiquidityCheck(ctx)
	}
	if time.Since(e.lastSubRefresh) >= subscriptionRefreshEvery {
		e.refreshSubscription()
		e.lastSubRefresh = time.Now()
	}
	e.RESTPriceFallback(ctx)
}
