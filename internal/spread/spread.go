package spread

import (
	"github.com/shopspring/decimal"

	"arbwatch/internal/market"
)

// Direction names a round trip between the two venues.
type Direction string

const (
	// KToP buys Kalshi at the ask and sells Polymarket at the bid.
	KToP Direction = "K→P"
	// PToK buys Polymarket at the ask and sells Kalshi at the bid.
	PToK Direction = "P→K"
)

// Directions in evaluation order.
var Directions = []Direction{KToP, PToK}

// Net holds both directional net spreads for one observation along with the
// cost total they were computed against.
type Net struct {
	CostTotal decimal.Decimal
	KToP      decimal.Decimal
	PToK      decimal.Decimal
}

// ByDirection returns the net spread for dir.
func (n Net) ByDirection(dir Direction) decimal.Decimal {
	if dir == KToP {
		return n.KToP
	}
	return n.PToK
}

// Crossed reports the pricing pathology where both directions are
// simultaneously positive. The caller logs it and proceeds per direction.
func (n Net) Crossed() bool {
	return n.KToP.IsPositive() && n.PToK.IsPositive()
}

// Compute derives the bi-directional net spread from two validated quotes
// and a pre-computed cost total.
func Compute(kalshi, poly market.Quote, costTotal decimal.Decimal) Net {
	return Net{
		CostTotal: costTotal,
		KToP:      poly.Bid.Sub(kalshi.Ask).Sub(costTotal),
		PToK:      kalshi.Bid.Sub(poly.Ask).Sub(costTotal),
	}
}
