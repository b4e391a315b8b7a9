package costs

import (
	"github.com/shopspring/decimal"

	"arbwatch/internal/market"
)

// Kalshi fee schedule, per fill at execution price p on a contract of size C:
//
//	taker = ceil_cents(0.07   * C * p * (1-p))
//	maker = ceil_cents(0.0175 * C * p * (1-p))
//
// A round trip is assumed to cross the book once and rest once.
var (
	takerRate = decimal.NewFromFloat(0.07)
	makerRate = decimal.NewFromFloat(0.0175)
	one       = decimal.NewFromInt(1)
	two       = decimal.NewFromInt(2)
)

// Model computes the all-in frictional cost for a candidate round trip.
type Model struct {
	gasPerTrade decimal.Decimal
}

// NewModel builds a cost model with the configured per-trade gas fee.
func NewModel(gasPerTradeUSD decimal.Decimal) *Model {
	return &Model{gasPerTrade: gasPerTradeUSD}
}

// ceilCents rounds up to the next whole cent. Fees always round against the
// trader; banker's rounding is never used here.
func ceilCents(d decimal.Decimal) decimal.Decimal {
	return d.Mul(decimal.NewFromInt(100)).Ceil().Div(decimal.NewFromInt(100))
}

// TakerFee is the liquidity-crossing fee at execution price p.
func TakerFee(p decimal.Decimal, contracts int) decimal.Decimal {
	return ceilCents(takerRate.Mul(decimal.NewFromInt(int64(contracts))).Mul(p).Mul(one.Sub(p)))
}

// MakerFee is the liquidity-resting fee at execution price p.
func MakerFee(p decimal.Decimal, contracts int) decimal.Decimal {
	return ceilCents(makerRate.Mul(decimal.NewFromInt(int64(contracts))).Mul(p).Mul(one.Sub(p)))
}

// KalshiRoundTrip sums the taker and maker legs at execution price p.
func KalshiRoundTrip(p decimal.Decimal, contracts int) decimal.Decimal {
	return TakerFee(p, contracts).Add(MakerFee(p, contracts))
}

// Total computes cost_total for one observation:
//
//	kalshi round-trip fees at the Kalshi bid
//	+ the Polymarket spread as implicit friction
//	+ gas for entry and exit
//
// The same total applies to both trade directions.
func (m *Model) Total(kalshi, poly market.Quote, contracts int) decimal.Decimal {
	if contracts < 1 {
		contracts = 1
	}
	kalshiFees := KalshiRoundTrip(kalshi.Bid, contracts)
	polySpread := poly.Ask.Sub(poly.Bid)
	return kalshiFees.Add(polySpread).Add(m.gasPerTrade.Mul(two))
}
