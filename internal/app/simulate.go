package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"arbwatch/internal/alerting"
	"arbwatch/internal/costs"
	"arbwatch/internal/market"
	"arbwatch/internal/spread"
)

// SimulateAlert 通过给定的两侧报价模拟一次机会告警流程。
func (a *App) SimulateAlert(ctx context.Context, kalshiBid, kalshiAsk, polyBid, polyAsk decimal.Decimal) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	kq := market.Quote{Venue: market.VenueKalshi, Bid: kalshiBid, Ask: kalshiAsk, LocalTimestamp: now}
	pq := market.Quote{Venue: market.VenuePolymarket, Bid: polyBid, Ask: polyAsk, LocalTimestamp: now}

	model := costs.NewModel(decimal.NewFromFloat(a.Config.CostAssumptions.GasFeePerTradeUSD))
	net := spread.Compute(kq, pq, model.Total(kq, pq, 1))

	sent := false
	for _, dir := range spread.Directions {
		s := net.ByDirection(dir)
		if !s.IsPositive() {
			continue
		}
		sig := alerting.Signal{
			Time:       now,
			PairID:     "simulated",
			MarketPair: "simulated pair",
			Direction:  dir,
			NetSpread:  s,
			KalshiBid:  kalshiBid,
			KalshiAsk:  kalshiAsk,
			PolyBid:    polyBid,
			PolyAsk:    polyAsk,
		}
		if err := notifier.Notify(ctx, sig); err != nil {
			return err
		}
		sent = true
	}

	if !sent {
		a.Logger.Info().
			Str("k_to_p", net.KToP.StringFixed(4)).
			Str("p_to_k", net.PToK.StringFixed(4)).
			Msg("no positive net spread; nothing to alert")
	}
	return nil
}
