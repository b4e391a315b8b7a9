package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one of the two monitored exchanges.
type Venue string

const (
	VenueKalshi     Venue = "kalshi"
	VenuePolymarket Venue = "polymarket"
)

// Pair maps a Kalshi market onto its Polymarket counterpart. Pairs are
// immutable after configuration load.
type Pair struct {
	ID                 string
	MarketName         string
	KalshiTicker       string
	PolymarketMarketID string
	ManuallyVerified   bool
	ContractSize       int
	Notes              string
}

// Quote is a single top-of-book observation for one venue. Quotes live for
// one polling tick.
type Quote struct {
	Venue           Venue
	Instrument      string
	Bid             decimal.Decimal
	Ask             decimal.Decimal
	RemoteTimestamp time.Time
	LocalTimestamp  time.Time
}

// Fetcher retrieves a fresh quote for one instrument on one venue. Fetches
// for distinct instruments are independent and may run concurrently.
type Fetcher interface {
	Fetch(ctx context.Context, instrument string) (Quote, error)
}

// ErrorKind classifies transport failures. RateLimited must be distinct:
// the scheduler's backoff state machine keys off it.
type ErrorKind string

const (
	ErrRateLimited ErrorKind = "RateLimited"
	ErrTimeout     ErrorKind = "Timeout"
	ErrNetwork     ErrorKind = "Network"
	ErrHTTP        ErrorKind = "Http"
	ErrDecode      ErrorKind = "Decode"
	ErrAuthN       ErrorKind = "AuthN"
)

// TransportError wraps a failed fetch with its classification.
type TransportError struct {
	Venue  Venue
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Venue, e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Venue, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Venue, e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is an HTTP 429 transport error.
func IsRateLimited(err error) bool {
	te, ok := AsTransport(err)
	return ok && te.Kind == ErrRateLimited
}

// AsTransport extracts a TransportError from err, if present.
func AsTransport(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
