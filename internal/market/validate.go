package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote preconditions. Prices on both venues are binary-contract dollars, so
// anything outside [0.01, 0.99] is either a settled market or garbage data.
var (
	minPrice = decimal.NewFromFloat(0.01)
	maxPrice = decimal.NewFromFloat(0.99)
)

const maxQuoteSkew = 10 * time.Second

// ValidationError describes why a quote was rejected. Stale marks the
// timestamp-skew case; the monitor handles it like any other rejection and
// carries the flag only into its failure log line.
type ValidationError struct {
	Venue  Venue
	Reason string
	Stale  bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s quote: %s", e.Venue, e.Reason)
}

// Validate applies the data-quality predicates to a quote. It is pure: the
// caller supplies the quote with both timestamps already stamped.
func Validate(q Quote) error {
	if q.Bid.IsZero() && q.Ask.IsZero() {
		return &ValidationError{Venue: q.Venue, Reason: "prices missing"}
	}
	if q.Bid.LessThan(minPrice) || q.Bid.GreaterThan(maxPrice) {
		return &ValidationError{Venue: q.Venue, Reason: fmt.Sprintf("bid %s out of range", q.Bid)}
	}
	if q.Ask.LessThan(minPrice) || q.Ask.GreaterThan(maxPrice) {
		return &ValidationError{Venue: q.Venue, Reason: fmt.Sprintf("ask %s out of range", q.Ask)}
	}
	if q.Bid.GreaterThan(q.Ask) {
		return &ValidationError{Venue: q.Venue, Reason: fmt.Sprintf("bid %s above ask %s", q.Bid, q.Ask)}
	}
	if !q.RemoteTimestamp.IsZero() {
		skew := q.LocalTimestamp.Sub(q.RemoteTimestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew >= maxQuoteSkew {
			return &ValidationError{Venue: q.Venue, Reason: fmt.Sprintf("quote stale by %s", skew), Stale: true}
		}
	}
	return nil
}

// IsStale reports whether err is a staleness rejection.
func IsStale(err error) bool {
	ve, ok := err.(*ValidationError)
	return ok && ve.Stale
}
