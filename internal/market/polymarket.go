package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PolymarketOptions parameterise the Polymarket gamma-API client.
type PolymarketOptions struct {
	BaseURL   string
	UserAgent string
}

// Polymarket fetches top-of-book quotes from the Polymarket gamma API.
type Polymarket struct {
	opts    PolymarketOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewPolymarket constructs a Polymarket fetcher.
func NewPolymarket(opts PolymarketOptions, logger zerolog.Logger) *Polymarket {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://gamma-api.polymarket.com"
	}
	return &Polymarket{
		opts:    opts,
		client:  &http.Client{},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "polymarket_fetcher").Logger(),
	}
}

// The gamma payload has carried best prices under several key spellings over
// time; try them in order.
type polymarketMarket struct {
	BestBid   json.RawMessage `json:"bestBid"`
	BestAsk   json.RawMessage `json:"bestAsk"`
	YesBid    json.RawMessage `json:"yesBid"`
	YesAsk    json.RawMessage `json:"yesAsk"`
	UpdatedAt string          `json:"updatedAt"`
}

// Fetch retrieves the yes-side bid/ask for one market id.
func (p *Polymarket) Fetch(ctx context.Context, marketID string) (Quote, error) {
	url := fmt.Sprintf("%s/markets/%s", p.baseURL, marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, &TransportError{Venue: VenuePolymarket, Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Quote{}, classifyRequestError(VenuePolymarket, err)
	}
	defer resp.Body.Close()

	local := time.Now()
	if te := classifyStatus(VenuePolymarket, resp.StatusCode); te != nil {
		return Quote{}, te
	}

	var payload polymarketMarket
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, &TransportError{Venue: VenuePolymarket, Kind: ErrDecode, Err: err}
	}

	bid, ask, err := p.extractPrices(payload)
	if err != nil {
		return Quote{}, &TransportError{Venue: VenuePolymarket, Kind: ErrDecode, Err: err}
	}

	remote := local
	if payload.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, payload.UpdatedAt); err == nil {
			remote = t
		}
	}

	return Quote{
		Venue:           VenuePolymarket,
		Instrument:      marketID,
		Bid:             bid,
		Ask:             ask,
		RemoteTimestamp: remote,
		LocalTimestamp:  local,
	}, nil
}

func (p *Polymarket) extractPrices(m polymarketMarket) (decimal.Decimal, decimal.Decimal, error) {
	for _, pair := range [][2]json.RawMessage{
		{m.BestBid, m.BestAsk},
		{m.YesBid, m.YesAsk},
	} {
		bid, errB := dollarsField(pair[0])
		ask, errA := dollarsField(pair[1])
		if errB == nil && errA == nil {
			return bid, ask, nil
		}
	}
	return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("no bid/ask in gamma payload")
}

var _ Fetcher = (*Polymarket)(nil)
