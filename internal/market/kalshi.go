package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// KalshiOptions parameterise the Kalshi client.
type KalshiOptions struct {
	BaseURL   string
	APIKey    string
	UserAgent string
}

// Kalshi fetches top-of-book quotes from the Kalshi trade API.
type Kalshi struct {
	opts    KalshiOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewKalshi constructs a Kalshi fetcher. Per-request deadlines come from the
// caller's context, so the underlying client carries no timeout of its own.
func NewKalshi(opts KalshiOptions, logger zerolog.Logger) *Kalshi {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	return &Kalshi{
		opts:    opts,
		client:  &http.Client{},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "kalshi_fetcher").Logger(),
	}
}

type kalshiMarket struct {
	Ticker        string          `json:"ticker"`
	YesBidDollars json.RawMessage `json:"yes_bid_dollars"`
	YesAskDollars json.RawMessage `json:"yes_ask_dollars"`
}

type kalshiMarketResponse struct {
	Market kalshiMarket `json:"market"`
}

// Fetch retrieves the yes-side bid/ask for one market ticker.
func (k *Kalshi) Fetch(ctx context.Context, ticker string) (Quote, error) {
	url := fmt.Sprintf("%s/markets/%s", k.baseURL, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, &TransportError{Venue: VenueKalshi, Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(k.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if k.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+k.opts.APIKey)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return Quote{}, classifyRequestError(VenueKalshi, err)
	}
	defer resp.Body.Close()

	local := time.Now()
	if te := classifyStatus(VenueKalshi, resp.StatusCode); te != nil {
		io.Copy(io.Discard, resp.Body)
		return Quote{}, te
	}

	var payload kalshiMarketResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, &TransportError{Venue: VenueKalshi, Kind: ErrDecode, Err: err}
	}

	bid, err := dollarsField(payload.Market.YesBidDollars)
	if err != nil {
		return Quote{}, &TransportError{Venue: VenueKalshi, Kind: ErrDecode, Err: fmt.Errorf("yes_bid_dollars: %w", err)}
	}
	ask, err := dollarsField(payload.Market.YesAskDollars)
	if err != nil {
		return Quote{}, &TransportError{Venue: VenueKalshi, Kind: ErrDecode, Err: fmt.Errorf("yes_ask_dollars: %w", err)}
	}

	return Quote{
		Venue:           VenueKalshi,
		Instrument:      ticker,
		Bid:             bid,
		Ask:             ask,
		RemoteTimestamp: remoteTimestamp(resp.Header, local),
		LocalTimestamp:  local,
	}, nil
}

// dollarsField parses Kalshi dollar prices, which the API serialises either
// as JSON numbers or as quoted strings.
func dollarsField(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 {
		return decimal.Decimal{}, errors.New("field missing")
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return decimal.Decimal{}, errors.New("field empty")
	}
	return decimal.NewFromString(s)
}

// remoteTimestamp takes the quote time from the HTTP Date header, or the local
// receive time when that header is absent or unparseable. The payload itself
// is not consulted.
func remoteTimestamp(h http.Header, local time.Time) time.Time {
	if v := h.Get("Date"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			return t
		}
	}
	return local
}

func classifyStatus(venue Venue, status int) *TransportError {
	switch {
	case status == http.StatusTooManyRequests:
		return &TransportError{Venue: venue, Kind: ErrRateLimited, Status: status}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &TransportError{Venue: venue, Kind: ErrAuthN, Status: status}
	case status < 200 || status >= 300:
		return &TransportError{Venue: venue, Kind: ErrHTTP, Status: status}
	}
	return nil
}

func classifyRequestError(venue Venue, err error) *TransportError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Venue: venue, Kind: ErrTimeout, Err: err}
	}
	return &TransportError{Venue: venue, Kind: ErrNetwork, Err: err}
}

var _ Fetcher = (*Kalshi)(nil)
