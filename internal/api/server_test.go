package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/tradecopy/engine/internal/engine"
	"github.com/tradecopy/engine/internal/ledger"
	"github.com/tradecopy/engine/internal/tick"
)

type fakeEngine struct {
	status       engine.Status
	started      bool
	closedAll    bool
	closedMarket string
	settings     engine.TradeSettings
	startErr     error
}

func (f *fakeEngine) Status() engine.Status { return f.status }
func (f *fakeEngine) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.status.Running = true
	return nil
}
func (f *fakeEngine) Stop() {
	f.started = false
	f.status.Running = false
}
func (f *fakeEngine) CloseAll(ctx context.Context) { f.closedAll = true }
func (f *fakeEngine) ManualClose(ctx context.Context, marketID string, side ledger.Side, tokenID, outcomeLabel string) error {
	f.closedMarket = marketID
	return nil
}
func (f *fakeEngine) GetTradeSettings() engine.TradeSettings { return f.settings }
func (f *fakeEngine) SetTradeSettings(s engine.TradeSettings) error {
	f.settings = s
	return nil
}

type fakeLedger struct {
	positions []ledger.Position
	closed    []ledger.ClosedPosition
	events    []ledger.TradeEvent
}

func (f *fakeLedger) GetPositions() []ledger.Position             { return f.positions }
func (f *fakeLedger) GetClosedPositions() []ledger.ClosedPosition { return f.closed }
func (f *fakeLedger) GetTradeEvents() []ledger.TradeEvent         { return f.events }

func newTestServer() (*Server, *fakeEngine, *fakeLedger) {
	eng := &fakeEngine{
		status: engine.Status{
			Running:            true,
			ProfileAddress:     "0xabc",
			Balance:            995.6,
			DailyRealizedPnL:   1.5,
			AllTimeRealizedPnL: 10,
			TotalUnrealizedPnL: 2,
		},
		settings: engine.DefaultTradeSettings(),
	}
	led := &fakeLedger{
		positions: []ledger.Position{
			{MarketID: "m1", TokenID: "t1", Side: ledger.SideYES, Size: 10, EntryTick: 440, CurrentTick: 450, State: ledger.StateOpen},
		},
		closed: []ledger.ClosedPosition{
			{MarketID: "m0", Side: ledger.SideYES, EntryTick: 480, ExitTick: 550, RealizedPnL: 2.1, CloseTrigger: ledger.TriggerCopyTraderEvent, CloseCause: ledger.CauseTargetSelloff},
		},
		events: []ledger.TradeEvent{
			{TxHash: "h1", Type: ledger.TradeBuy, MarketID: "m1", Side: ledger.SideYES, Size: 10, Tick: 440},
		},
	}
	s := NewServer("127.0.0.1:0", eng, led, ProfileInfo{Address: "0xabc", Name: "source"})
	return s, eng, led
}

func TestHandleStats(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["balance"].(float64) != 995.6 {
		t.Errorf("balance = %v", body["balance"])
	}
	positions := body["activePositions"].([]interface{})
	if len(positions) != 1 {
		t.Fatalf("activePositions len = %d", len(positions))
	}
	entryPrice := positions[0].(map[string]interface{})["entryPrice"].(float64)
	if entryPrice != tick.ToFloat(440) {
		t.Errorf("entryPrice = %v, want %v", entryPrice, tick.ToFloat(440))
	}
	profile := body["profile"].(map[string]interface{})
	if profile["address"] != "0xabc" {
		t.Errorf("profile address = %v", profile["address"])
	}
}

func TestHandleToggleStopsRunningEngine(t *testing.T) {
	s, eng, _ := newTestServer()
	req := httptest.NewRequest("POST", "/api/control/toggle", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if eng.status.Running {
		t.Error("expected engine stopped after toggle")
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["isRunning"].(bool) {
		t.Error("isRunning should be false in response")
	}
}

func TestHandleCloseAll(t *testing.T) {
	s, eng, _ := newTestServer()
	req := httptest.NewRequest("POST", "/api/control/close-all", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != 200 || !eng.closedAll {
		t.Fatalf("close-all not delegated, code=%d closedAll=%v", w.Code, eng.closedAll)
	}
}

func TestHandleCloseRequiresMarketID(t *testing.T) {
	s, _, _ := newTestServer()
	body, _ := json.Marshal(closeRequest{Side: "YES"})
	req := httptest.NewRequest("POST", "/api/close", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleCloseDelegates(t *testing.T) {
	s, eng, _ := newTestServer()
	body, _ := json.Marshal(closeRequest{MarketID: "m1", Side: "YES"})
	req := httptest.NewRequest("POST", "/api/close", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if eng.closedMarket != "m1" {
		t.Errorf("closedMarket = %q, want m1", eng.closedMarket)
	}
}

func TestHandleTradeAmountGetAndPost(t *testing.T) {
	s, eng, _ := newTestServer()

	getReq := httptest.NewRequest("GET", "/api/settings/trade-amount", nil)
	getW := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(getW, getReq)
	var got map[string]interface{}
	json.Unmarshal(getW.Body.Bytes(), &got)
	if got["mode"] != string(engine.SizingPercentage) {
		t.Errorf("mode = %v", got["mode"])
	}

	patch := tradeAmountRequest{Mode: string(engine.SizingFixed), FixedAmountUSD: 25}
	body, _ := json.Marshal(patch)
	postReq := httptest.NewRequest("POST", "/api/settings/trade-amount", bytes.NewReader(body))
	postW := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(postW, postReq)

	if postW.Code != 200 {
		t.Fatalf("status = %d", postW.Code)
	}
	if eng.settings.Mode != engine.SizingFixed || eng.settings.FixedAmountUSD != 25 {
		t.Errorf("settings not updated: %+v", eng.settings)
	}
}

func TestHandleTradeAmountRejectsBadMode(t *testing.T) {
	s, _, _ := newTestServer()
	body, _ := json.Marshal(tradeAmountRequest{Mode: "BOGUS"})
	req := httptest.NewRequest("POST", "/api/settings/trade-amount", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
}
