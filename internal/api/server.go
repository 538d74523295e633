// Package api is the dashboard HTTP control plane: a read-mostly stats
// view plus a small set of control endpoints, all delegated straight
// through to the engine. It never touches the ledger directly except
// through read accessors. Control handlers call the engine's methods
// inline and respond when they return; commands are not queued, so a
// close-all or manual close waits on the venue calls the close makes, and
// a toggle that stops the engine waits for the current loop tick to end.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/tradecopy/engine/internal/engine"
	"github.com/tradecopy/engine/internal/ledger"
	"github.com/tradecopy/engine/internal/tick"
)

// Engine is the subset of *engine.Engine the dashboard drives.
type Engine interface {
	Status() engine.Status
	Start(ctx context.Context) error
	Stop()
	CloseAll(ctx context.Context)
	ManualClose(ctx context.Context, marketID string, side ledger.Side, tokenID, outcomeLabel string) error
	GetTradeSettings() engine.TradeSettings
	SetTradeSettings(s engine.TradeSettings) error
}

// LedgerReader is the subset of *ledger.Store the dashboard reads for
// stats. Positions/closed positions/trade events are read here rather
// than through the engine, which only exposes aggregate totals.
type LedgerReader interface {
	GetPositions() []ledger.Position
	GetClosedPositions() []ledger.ClosedPosition
	GetTradeEvents() []ledger.TradeEvent
}

// Server is the dashboard's HTTP API.
type Server struct {
	httpServer *http.Server
	engine     Engine
	led        LedgerReader
	profile    ProfileInfo
	startedAt  time.Time
}

// ProfileInfo is the source account identity shown on the dashboard.
type ProfileInfo struct {
	Address string
	Name    string
}

// NewServer builds the dashboard router bound to addr.
func NewServer(addr string, eng Engine, led LedgerReader, profile ProfileInfo) *Server {
	s := &Server{
		engine:    eng,
		led:       led,
		profile:   profile,
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/control/toggle", s.handleToggle).Methods(http.MethodPost)
	r.HandleFunc("/api/control/close-all", s.handleCloseAll).Methods(http.MethodPost)
	r.HandleFunc("/api/close", s.handleClose).Methods(http.MethodPost)
	r.HandleFunc("/api/settings/trade-amount", s.handleTradeAmount).Methods(http.MethodGet, http.MethodPost)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving. Non-blocking: the listener runs in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		_ = s.httpServer.Serve(ln)
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/health: liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

type positionView struct {
	MarketID      string  `json:"marketId"`
	TokenID       string  `json:"tokenId,omitempty"`
	Side          string  `json:"side"`
	OutcomeLabel  string  `json:"outcomeLabel"`
	MarketType    string  `json:"marketType"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entryPrice"`
	InvestedUSD   float64 `json:"investedUsd"`
	RealizedPnL   float64 `json:"realizedPnL"`
	CurrentPrice  float64 `json:"currentPrice"`
	CurrentValue  float64 `json:"currentValue"`
	UnrealizedPnL float64 `json:"unrealizedPnL"`
	State         string  `json:"state"`
}

func toPositionView(p ledger.Position) positionView {
	return positionView{
		MarketID:      p.MarketID,
		TokenID:       p.TokenID,
		Side:          string(p.Side),
		OutcomeLabel:  p.OutcomeLabel,
		MarketType:    string(p.MarketType),
		Size:          p.Size,
		EntryPrice:    tick.ToFloat(p.EntryTick),
		InvestedUSD:   p.InvestedUSD,
		RealizedPnL:   p.RealizedPnL,
		CurrentPrice:  tick.ToFloat(p.CurrentTick),
		CurrentValue:  p.CurrentValue,
		UnrealizedPnL: p.UnrealizedPnL,
		State:         string(p.State),
	}
}

type closedPositionView struct {
	MarketID       string  `json:"marketId"`
	TokenID        string  `json:"tokenId,omitempty"`
	Side           string  `json:"side"`
	OutcomeLabel   string  `json:"outcomeLabel"`
	EntryPrice     float64 `json:"entryPrice"`
	ExitPrice      float64 `json:"exitPrice"`
	InvestedUSD    float64 `json:"investedUsd"`
	ReturnUSD      float64 `json:"returnUsd"`
	RealizedPnL    float64 `json:"realizedPnL"`
	CloseTrigger   string  `json:"closeTrigger"`
	CloseCause     string  `json:"closeCause"`
	CloseTimestamp int64   `json:"closeTimestamp"`
}

func toClosedView(p ledger.ClosedPosition) closedPositionView {
	return closedPositionView{
		MarketID:       p.MarketID,
		TokenID:        p.TokenID,
		Side:           string(p.Side),
		OutcomeLabel:   p.OutcomeLabel,
		EntryPrice:     tick.ToFloat(p.EntryTick),
		ExitPrice:      tick.ToFloat(p.ExitTick),
		InvestedUSD:    p.InvestedUSD,
		ReturnUSD:      p.ReturnUSD,
		RealizedPnL:    p.RealizedPnL,
		CloseTrigger:   string(p.CloseTrigger),
		CloseCause:     string(p.CloseCause),
		CloseTimestamp: p.CloseTimestamp,
	}
}

type tradeEventView struct {
	TxHash       string  `json:"txHash"`
	Type         string  `json:"type"`
	MarketID     string  `json:"marketId"`
	MarketName   string  `json:"marketName"`
	Side         string  `json:"side"`
	OutcomeLabel string  `json:"outcomeLabel"`
	Size         float64 `json:"size"`
	Price        float64 `json:"price"`
	Reason       string  `json:"reason"`
	Timestamp    int64   `json:"timestamp"`
}

func toTradeEventView(ev ledger.TradeEvent) tradeEventView {
	return tradeEventView{
		TxHash:       ev.TxHash,
		Type:         string(ev.Type),
		MarketID:     ev.MarketID,
		MarketName:   ev.MarketName,
		Side:         string(ev.Side),
		OutcomeLabel: ev.OutcomeLabel,
		Size:         ev.Size,
		Price:        tick.ToFloat(ev.Tick),
		Reason:       ev.Reason,
		Timestamp:    ev.Timestamp,
	}
}

// GET /api/stats: the dashboard's single read model.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	positions := s.led.GetPositions()
	closed := s.led.GetClosedPositions()
	history := s.led.GetTradeEvents()

	activeViews := make([]positionView, 0, len(positions))
	for _, p := range positions {
		activeViews = append(activeViews, toPositionView(p))
	}
	closedViews := make([]closedPositionView, 0, len(closed))
	for _, p := range closed {
		closedViews = append(closedViews, toClosedView(p))
	}
	historyViews := make([]tradeEventView, 0, len(history))
	for _, ev := range history {
		historyViews = append(historyViews, toTradeEventView(ev))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"botStatus":          st.Running,
		"balance":            st.Balance,
		"dailyRealizedPnL":   st.DailyRealizedPnL,
		"totalUnrealizedPnL": st.TotalUnrealizedPnL,
		"dailyPnL":           st.DailyRealizedPnL + st.TotalUnrealizedPnL,
		"allTimePnL":         st.AllTimeRealizedPnL,
		"activePositions":    activeViews,
		"closedPositions":    closedViews,
		"history":            historyViews,
		"profile": map[string]interface{}{
			"address": s.profile.Address,
			"name":    s.profile.Name,
		},
	})
}

// POST /api/control/toggle: start the engine if stopped, stop it if
// running.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	running := s.engine.Status().Running
	if running {
		s.engine.Stop()
	} else if err := s.engine.Start(r.Context()); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"isRunning": s.engine.Status().Running,
	})
}

// POST /api/control/close-all: close every open position with USER_ACTION.
func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	s.engine.CloseAll(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type closeRequest struct {
	MarketID     string `json:"marketId"`
	Side         string `json:"side"`
	TokenID      string `json:"tokenId,omitempty"`
	OutcomeLabel string `json:"outcomeLabel,omitempty"`
}

// POST /api/close: manual single-position close.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid request body"})
		return
	}
	if req.MarketID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "marketId is required"})
		return
	}
	side := ledger.Side(req.Side)
	if side != ledger.SideYES && side != ledger.SideNO {
		side = ledger.SideYES
	}
	if err := s.engine.ManualClose(r.Context(), req.MarketID, side, req.TokenID, req.OutcomeLabel); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type tradeAmountRequest struct {
	Mode           string  `json:"mode"`
	Percentage     float64 `json:"percentage"`
	FixedAmountUSD float64 `json:"fixedAmountUsd"`
}

// GET/POST /api/settings/trade-amount: read or update the sizing mode.
func (s *Server) handleTradeAmount(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		cur := s.engine.GetTradeSettings()
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"mode":           cur.Mode,
			"percentage":     cur.Percentage,
			"fixedAmountUsd": cur.FixedAmountUSD,
		})
		return
	}

	var req tradeAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid request body"})
		return
	}
	mode := engine.SizingMode(req.Mode)
	if mode != engine.SizingFixed && mode != engine.SizingPercentage {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "mode must be FIXED or PERCENTAGE"})
		return
	}
	settings := engine.TradeSettings{Mode: mode, Percentage: req.Percentage, FixedAmountUSD: req.FixedAmountUSD}
	if err := s.engine.SetTradeSettings(settings); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
