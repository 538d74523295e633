package venue

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecopy/engine/internal/lifecycle"
	"github.com/tradecopy/engine/internal/tick"
)

// activityDTO is the raw shape of one data-api activity entry.
type activityDTO struct {
	ID              string      `json:"id"`
	TransactionHash string      `json:"transactionHash"`
	Timestamp       int64       `json:"timestamp"`
	Type            string      `json:"type"`
	Side            string      `json:"side"`
	Outcome         string      `json:"outcome"`
	Size            json.Number `json:"size"`
	Price           json.Number `json:"price"`
	MarketID        string      `json:"marketId"`
	ConditionID     string      `json:"conditionId"`
}

func (a activityDTO) toRawTrade() RawTrade {
	marketID := a.MarketID
	if marketID == "" {
		marketID = a.ConditionID
	}
	size, _ := a.Size.Float64()
	price, _ := a.Price.Float64()
	side := Buy
	if strings.EqualFold(a.Side, "SELL") {
		side = Sell
	}
	txHash := a.TransactionHash
	if txHash == "" {
		txHash = a.ID
	}
	return RawTrade{
		ID:           a.ID,
		TxHash:       txHash,
		TimestampSec: a.Timestamp,
		Type:         a.Type,
		Outcome:      a.Outcome,
		Size:         size,
		Price:        price,
		MarketID:     marketID,
		Side:         side,
	}
}

// bookDTO is the raw {bids,asks} shape from the CLOB book endpoint.
type bookDTO struct {
	Bids []levelDTO `json:"bids"`
	Asks []levelDTO `json:"asks"`
}

type levelDTO struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (b bookDTO) toOrderBook() OrderBook {
	return OrderBook{
		Bids: sortLevels(b.Bids, true),
		Asks: sortLevels(b.Asks, false),
	}
}

func sortLevels(raw []levelDTO, descending bool) []BookLevel {
	out := make([]BookLevel, 0, len(raw))
	for _, l := range raw {
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil || size <= 0 {
			continue
		}
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		out = append(out, BookLevel{Tick: tick.FromDecimal(price), Size: size})
	}
	sortLevelsInPlace(out, descending)
	return out
}

func sortLevelsInPlace(levels []BookLevel, descending bool) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			swap := false
			if descending {
				swap = levels[j].Tick > levels[j-1].Tick
			} else {
				swap = levels[j].Tick < levels[j-1].Tick
			}
			if !swap {
				break
			}
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

// marketDTO is the raw gamma-api market/event container. Fields that may
// arrive as either a JSON string or a native list are kept as
// json.RawMessage and decoded tolerantly by flexStringList/flexFloatList.
type marketDTO struct {
	Question            string            `json:"question"`
	Slug                string            `json:"slug"`
	ConditionID         string            `json:"conditionId"`
	ID                  string            `json:"id"`
	Outcomes            json.RawMessage   `json:"outcomes"`
	ClobTokenIDs        json.RawMessage   `json:"clobTokenIds"`
	OutcomePrices       json.RawMessage   `json:"outcomePrices"`
	Resolved            json.RawMessage   `json:"resolved"`
	Closed              json.RawMessage   `json:"closed"`
	Active              json.RawMessage   `json:"active"`
	UmaResolutionStatus string            `json:"umaResolutionStatus"`
	Status              string            `json:"status"`
	WinnerTokenID       string            `json:"winnerTokenId"`
	Winner              string            `json:"winner"`
	OutcomeStatuses     []string          `json:"outcomeStatuses"`
	EndDate             string            `json:"endDate"`
	EndDateMs           int64             `json:"endDateTimestamp"`
	AcceptingOrders     json.RawMessage   `json:"acceptingOrders"`
	Markets             []marketDTO       `json:"markets"`
	Events              []json.RawMessage `json:"events"`
}

func (m marketDTO) isResolved() bool {
	if flexBool(m.Resolved) {
		return true
	}
	if strings.EqualFold(m.Status, "resolved") {
		return true
	}
	if strings.EqualFold(m.UmaResolutionStatus, "resolved") {
		return true
	}
	if m.WinnerTokenID != "" {
		return true
	}
	if len(m.OutcomeStatuses) > 0 {
		all := true
		for _, s := range m.OutcomeStatuses {
			if !strings.EqualFold(s, "resolved") {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// normalize builds a Market from a marketDTO, preserving venue outcome
// order and aligning token ids by index.
func (m marketDTO) normalize() Market {
	labels := flexStringList(m.Outcomes)
	tokenIDs := flexStringList(m.ClobTokenIDs)
	prices := flexFloatList(m.OutcomePrices)

	outcomes := make([]Outcome, 0, len(labels))
	for i, label := range labels {
		o := Outcome{Label: label}
		if i < len(tokenIDs) {
			o.TokenID = tokenIDs[i]
		}
		if i < len(prices) {
			o.TickPrice = tick.FromFloat(prices[i])
			o.HasPrice = true
		}
		outcomes = append(outcomes, o)
	}

	marketType := Multi
	if len(outcomes) == 2 {
		marketType = Binary
	}

	marketID := m.ConditionID
	if marketID == "" {
		marketID = m.ID
	}

	endMs, hasEnd := m.endTimeMs()

	return Market{
		MarketID:      marketID,
		Question:      m.Question,
		Slug:          m.Slug,
		EndTimeMs:     endMs,
		HasEndTime:    hasEnd,
		Type:          marketType,
		Outcomes:      outcomes,
		IsResolved:    m.isResolved(),
		WinnerTokenID: m.WinnerTokenID,
	}
}

// endTimeMs parses the venue's endDate (RFC3339) or the numeric
// endDateTimestamp field, whichever is present.
func (m marketDTO) endTimeMs() (int64, bool) {
	if m.EndDateMs > 0 {
		return m.EndDateMs, true
	}
	if m.EndDate == "" {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

func (m marketDTO) endTime() (time.Time, bool) {
	ms, ok := m.endTimeMs()
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// toContainer builds a lifecycle.Container from this market/event payload.
// A MULTI event carries its child markets in Markets; a SINGLE market has no
// children and is wrapped as its own trivial one-child container.
func (m marketDTO) toContainer() lifecycle.Container {
	if len(m.Markets) > 0 {
		children := make([]lifecycle.ChildMarket, 0, len(m.Markets))
		for _, child := range m.Markets {
			children = append(children, child.toChildMarket())
		}
		return lifecycle.Container{Children: children}
	}
	return lifecycle.Container{Children: []lifecycle.ChildMarket{m.toChildMarket()}}
}

func (m marketDTO) toChildMarket() lifecycle.ChildMarket {
	endDate, hasEnd := m.endTime()
	return lifecycle.ChildMarket{
		ConditionID:     m.ConditionID,
		ID:              m.ID,
		UmaResolution:   m.UmaResolutionStatus,
		AcceptingOrders: flexBool(m.AcceptingOrders),
		EndDate:         endDate,
		HasEndDate:      hasEnd,
		OutcomeLabels:   flexStringList(m.Outcomes),
		OutcomePrices:   flexFloatList(m.OutcomePrices),
	}
}
