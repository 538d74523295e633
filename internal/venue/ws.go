package venue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/tradecopy/engine/internal/tick"
)

const pingInterval = 30 * time.Second

// Handler receives one decoded streaming update at a time.
type Handler func(BookUpdate)

// subscription owns one websocket connection and its read/ping loops.
type subscription struct {
	conn      *websocket.Conn
	stopCh    chan struct{}
	closeOnce sync.Once
}

func (s *subscription) close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		_ = s.conn.Close()
	})
}

// SubscribeOrderbook opens a streaming connection over tokenIDs and
// forwards each decoded update to handler. A previously open subscription
// on this client is torn down first.
func (c *Client) SubscribeOrderbook(tokenIDs []string, handler Handler) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		c.sub.close()
		c.sub = nil
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.endpoints.WSURL, nil)
	if err != nil {
		return fmt.Errorf("venue: ws dial: %w", err)
	}

	subMsg := map[string]interface{}{
		"type":       "market",
		"assets_ids": tokenIDs,
		"channel":    "book",
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("venue: ws subscribe: %w", err)
	}

	sub := &subscription{conn: conn, stopCh: make(chan struct{})}
	c.sub = sub

	go sub.pingLoop()
	go sub.readLoop(handler)
	return nil
}

// CloseSubscription tears down the current streaming connection, if any.
func (c *Client) CloseSubscription() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		c.sub.close()
		c.sub = nil
	}
}

func (s *subscription) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (s *subscription) readLoop(handler Handler) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		for _, u := range decodeBookMessage(data) {
			handler(u)
		}
	}
}

// wsEntry is the shape of a single streaming update entry. It is decoded
// tolerantly: the top-level payload may be a flat list of these, a
// {data:[...]} wrapper, or a {price_changes:[...]} wrapper.
type wsEntry struct {
	AssetID string     `json:"asset_id"`
	TokenID string     `json:"token_id"`
	Side    string     `json:"side"`
	Price   string     `json:"price"`
	Bids    []levelDTO `json:"bids"`
	Asks    []levelDTO `json:"asks"`
}

type wsDataWrapper struct {
	Data []wsEntry `json:"data"`
}

type wsPriceChangesWrapper struct {
	PriceChanges []wsEntry `json:"price_changes"`
}

func decodeBookMessage(data []byte) []BookUpdate {
	var flat []wsEntry
	if err := json.Unmarshal(data, &flat); err == nil && len(flat) > 0 {
		return entriesToUpdates(flat)
	}

	var dataWrapper wsDataWrapper
	if err := json.Unmarshal(data, &dataWrapper); err == nil && len(dataWrapper.Data) > 0 {
		return entriesToUpdates(dataWrapper.Data)
	}

	var pcWrapper wsPriceChangesWrapper
	if err := json.Unmarshal(data, &pcWrapper); err == nil && len(pcWrapper.PriceChanges) > 0 {
		return entriesToUpdates(pcWrapper.PriceChanges)
	}

	var single wsEntry
	if err := json.Unmarshal(data, &single); err == nil && (single.AssetID != "" || single.TokenID != "") {
		return entriesToUpdates([]wsEntry{single})
	}
	return nil
}

func entriesToUpdates(entries []wsEntry) []BookUpdate {
	out := make([]BookUpdate, 0, len(entries))
	for _, e := range entries {
		tokenID := e.AssetID
		if tokenID == "" {
			tokenID = e.TokenID
		}
		if tokenID == "" {
			continue
		}

		if len(e.Bids) > 0 || len(e.Asks) > 0 {
			book := bookDTO{Bids: e.Bids, Asks: e.Asks}.toOrderBook()
			out = append(out, BookUpdate{TokenID: tokenID, Book: &book})
			continue
		}

		if e.Price != "" {
			if p, err := decimal.NewFromString(e.Price); err == nil {
				out = append(out, BookUpdate{TokenID: tokenID, Price: tick.FromDecimal(p), IsPrice: true})
			}
		}
	}
	return out
}
