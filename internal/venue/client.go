package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkdata "github.com/GoPolymarket/polymarket-go-sdk/pkg/data"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/tradecopy/engine/internal/lifecycle"
	"github.com/tradecopy/engine/internal/tick"
)

const (
	bookTimeout     = 3 * time.Second
	metadataTimeout = 5 * time.Second
)

// Endpoints holds the base URLs for the venue's REST surfaces. Defaults
// point at the production venue; tests override them with an httptest
// server.
type Endpoints struct {
	DataAPIBaseURL  string
	GammaAPIBaseURL string
	CLOBBaseURL     string
	WSURL           string
}

// DefaultEndpoints are the venue's production hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		DataAPIBaseURL:  "https://data-api.polymarket.com",
		GammaAPIBaseURL: "https://gamma-api.polymarket.com",
		CLOBBaseURL:     "https://clob.polymarket.com",
		WSURL:           "wss://ws-subscriptions-clob.polymarket.com/ws/market",
	}
}

// Client is the process-wide singleton venue client. Every method is
// best-effort: a failure returns a zero value and a non-nil error. The
// client itself does not retry.
type Client struct {
	endpoints Endpoints
	bookHTTP  *resty.Client
	metaHTTP  *resty.Client

	// dataClient is the SDK's typed Data API surface, used only for
	// scanning a user's current holdings for the blacklist bootstrap.
	dataClient sdkdata.Client

	subMu sync.Mutex
	sub   *subscription // current streaming subscription, torn down on replace
}

// New builds a Client. dataClient may be nil in tests that don't exercise
// holdings scanning.
func New(endpoints Endpoints, dataClient sdkdata.Client) *Client {
	return &Client{
		endpoints:  endpoints,
		bookHTTP:   resty.New().SetTimeout(bookTimeout),
		metaHTTP:   resty.New().SetTimeout(metadataTimeout),
		dataClient: dataClient,
	}
}

// GetUserActivity fetches the source account's recent activity, newest
// first, exactly as the venue returns it.
func (c *Client) GetUserActivity(ctx context.Context, address string, limit int) ([]RawTrade, error) {
	var raw []activityDTO
	resp, err := c.metaHTTP.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":  address,
			"limit": fmt.Sprintf("%d", limit),
		}).
		SetResult(&raw).
		Get(c.endpoints.DataAPIBaseURL + "/activity")
	if err != nil {
		return nil, fmt.Errorf("venue: get user activity: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("venue: get user activity: status %d", resp.StatusCode())
	}

	out := make([]RawTrade, 0, len(raw))
	for _, a := range raw {
		out = append(out, a.toRawTrade())
	}
	return out, nil
}

// CurrentHoldings scans the source account's current real-money positions
// via the SDK's Data client, used to seed the blacklist so the paper
// engine never double-copies a market the real account already holds.
func (c *Client) CurrentHoldings(ctx context.Context, addr common.Address) ([]string, error) {
	if c.dataClient == nil {
		return nil, fmt.Errorf("venue: data client not configured")
	}
	positions, err := c.dataClient.Positions(ctx, &sdkdata.PositionsRequest{User: addr})
	if err != nil {
		return nil, fmt.Errorf("venue: current holdings: %w", err)
	}
	ids := make([]string, 0, len(positions))
	seen := make(map[string]struct{})
	for _, p := range positions {
		conditionID := p.ConditionID.Hex()
		if p.ConditionID == (common.Hash{}) {
			continue
		}
		if _, dup := seen[conditionID]; dup {
			continue
		}
		seen[conditionID] = struct{}{}
		ids = append(ids, conditionID)
	}
	return ids, nil
}

// GetOrderBook fetches the order book for a single token id.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	var raw bookDTO
	resp, err := c.bookHTTP.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&raw).
		Get(c.endpoints.CLOBBaseURL + "/book")
	if err != nil {
		return nil, fmt.Errorf("venue: get order book: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("venue: get order book: status %d", resp.StatusCode())
	}
	book := raw.toOrderBook()
	return &book, nil
}

// GetMarketDetails fetches normalized market metadata by id. When the
// primary lookup fails (transport error or any error status) it tries the
// condition_ids filter form, since the gamma API indexes some markets only
// by that secondary key.
func (c *Client) GetMarketDetails(ctx context.Context, marketID string) (*Market, error) {
	dto, err := c.fetchMarketDTO(ctx, marketID)
	if err != nil {
		return nil, err
	}
	m := dto.normalize()
	return &m, nil
}

// GetEventContainer fetches the same market/event payload as
// GetMarketDetails but returns it as a lifecycle.Container: the raw set of
// child markets (one for a SINGLE market, several for a MULTI event), ready
// for lifecycle.Classify.
func (c *Client) GetEventContainer(ctx context.Context, marketID string) (lifecycle.Container, error) {
	dto, err := c.fetchMarketDTO(ctx, marketID)
	if err != nil {
		return lifecycle.Container{}, err
	}
	return dto.toContainer(), nil
}

func (c *Client) fetchMarketDTO(ctx context.Context, marketID string) (marketDTO, error) {
	var primary marketDTO
	resp, err := c.metaHTTP.R().
		SetContext(ctx).
		SetResult(&primary).
		Get(c.endpoints.GammaAPIBaseURL + "/markets/" + marketID)
	if err == nil && !resp.IsError() {
		return primary, nil
	}

	var list []marketDTO
	resp2, err2 := c.metaHTTP.R().
		SetContext(ctx).
		SetQueryParam("condition_ids", marketID).
		SetResult(&list).
		Get(c.endpoints.GammaAPIBaseURL + "/markets")
	if err2 != nil {
		if err != nil {
			return marketDTO{}, fmt.Errorf("venue: get market details: %w", err)
		}
		return marketDTO{}, fmt.Errorf("venue: get market details (fallback): %w", err2)
	}
	if resp2.IsError() || len(list) == 0 {
		return marketDTO{}, fmt.Errorf("venue: market %s not found", marketID)
	}
	return list[0], nil
}

// GetLivePrice derives best bid/ask/mid from the given token's book. Legacy
// binary callers pass the YES-leg token; tokenId-tracked positions pass
// their own token, whichever leg it is.
func (c *Client) GetLivePrice(ctx context.Context, yesTokenID string) (*LivePrice, error) {
	book, err := c.GetOrderBook(ctx, yesTokenID)
	if err != nil {
		return nil, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return nil, fmt.Errorf("venue: empty book for live price")
	}
	bestBid := book.Bids[0].Tick
	bestAsk := book.Asks[0].Tick
	mid := tick.Clamp((int(bestBid) + int(bestAsk)) / 2)
	return &LivePrice{BestBid: bestBid, BestAsk: bestAsk, MidTick: mid}, nil
}
