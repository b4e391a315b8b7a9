package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/alerting"
	"arbwatch/internal/clock"
	"arbwatch/internal/costs"
	"arbwatch/internal/market"
	"arbwatch/internal/recorder"
	"arbwatch/internal/scheduler"
	"arbwatch/internal/spread"
	"arbwatch/internal/storage"
	"arbwatch/internal/window"
)

// failureThreshold marks a pair ERROR after this many consecutive non-429
// fetch or validation failures. Rate limiting is backpressure, not a data
// failure, and never counts toward it.
const failureThreshold = 3

// Options wire the per-tick pipeline.
type Options struct {
	Pairs      []market.Pair
	Kalshi     market.Fetcher
	Polymarket market.Fetcher
	Costs      *costs.Model
	Tracker    *window.Tracker
	Recorder   *recorder.Recorder
	Store      *storage.Store
	Notifier   alerting.Notifier
	Clock      clock.Clock
}

// Monitor runs one polling cycle per tick: concurrent fetches across all
// pairs, then strictly serialized validate → cost → spread → window → record
// processing in pair order.
type Monitor struct {
	opts     Options
	failures map[string]int
	logger   zerolog.Logger
}

// New constructs the monitor.
func New(opts Options, logger zerolog.Logger) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Monitor{
		opts:     opts,
		failures: make(map[string]int),
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

type pairFetch struct {
	kalshi    market.Quote
	poly      market.Quote
	kalshiErr error
	polyErr   error
}

// Tick implements scheduler.TickFunc.
func (m *Monitor) Tick(ctx context.Context, deadline time.Duration) (scheduler.TickResult, error) {
	fetches := make([]pairFetch, len(m.opts.Pairs))

	fctx, cancel := context.WithTimeout(ctx, deadline)
	var g errgroup.Group
	for i, p := range m.opts.Pairs {
		i, p := i, p
		g.Go(func() error {
			fetches[i].kalshi, fetches[i].kalshiErr = m.opts.Kalshi.Fetch(fctx, p.KalshiTicker)
			return nil
		})
		g.Go(func() error {
			fetches[i].poly, fetches[i].polyErr = m.opts.Polymarket.Fetch(fctx, p.PolymarketMarketID)
			return nil
		})
	}
	g.Wait()
	cancel()

	var res scheduler.TickResult
	for i, p := range m.opts.Pairs {
		rateLimited, err := m.process(ctx, p, fetches[i])
		if err != nil {
			return res, err
		}
		if rateLimited {
			res.RateLimited = true
		}
	}
	return res, nil
}

// process drives one pair through the pipeline. The returned error is fatal
// (a log row that could not be written); everything else degrades to an
// empty observation row.
func (m *Monitor) process(ctx context.Context, pair market.Pair, f pairFetch) (bool, error) {
	now := m.opts.Clock.Now()

	rateLimited := false
	failed := false
	stale := false

	for _, venueErr := range []error{f.kalshiErr, f.polyErr} {
		if venueErr == nil {
			continue
		}
		te, _ := market.AsTransport(venueErr)
		if market.IsRateLimited(venueErr) {
			rateLimited = true
			m.opts.Recorder.RateLimited(pair.ID, te.Status)
			continue
		}
		failed = true
		status, detail := 0, venueErr.Error()
		if te != nil {
			status = te.Status
		}
		m.opts.Recorder.TransportError(pair.ID, status, detail)
	}

	if !failed && !rateLimited {
		for _, q := range []market.Quote{f.kalshi, f.poly} {
			if err := market.Validate(q); err != nil {
				failed = true
				stale = stale || market.IsStale(err)
				m.opts.Recorder.ValidationFailed(pair.ID, err.Error())
			}
		}
	}

	if failed || rateLimited {
		if failed {
			m.recordFailure(pair, stale)
		}
		if err := m.writeErrorRow(ctx, pair, now); err != nil {
			return rateLimited, err
		}
		forced := m.opts.Tracker.ObserveError(pair.ID, now)
		for _, w := range forced {
			m.opts.Recorder.WindowForcedClose(pair.ID, w.ID, "3 consecutive error observations")
			if err := m.opts.Recorder.WriteWindow(w); err != nil {
				return rateLimited, err
			}
			m.mirrorWindow(ctx, w)
		}
		return rateLimited, nil
	}

	m.failures[pair.ID] = 0

	costTotal := m.opts.Costs.Total(f.kalshi, f.poly, pair.ContractSize)
	net := spread.Compute(f.kalshi, f.poly, costTotal)
	if net.Crossed() {
		m.opts.Recorder.CrossedBook(pair.ID, net.KToP, net.PToK)
		m.logger.Warn().Str("pair_id", pair.ID).Msg("crossed book: both directions positive")
	}

	snap := recorder.Snapshot{
		Timestamp:  now,
		MarketPair: pair.MarketName,
		OK:         true,
		KalshiBid:  f.kalshi.Bid,
		KalshiAsk:  f.kalshi.Ask,
		PolyBid:    f.poly.Bid,
		PolyAsk:    f.poly.Ask,
		TotalCost:  costTotal,
		NetKToP:    net.KToP,
		NetPToK:    net.PToK,
	}
	if err := m.opts.Recorder.WriteSnapshot(snap); err != nil {
		return false, err
	}
	m.mirrorSnapshot(ctx, snap)

	result := m.opts.Tracker.Observe(pair.ID, pair.MarketName, net, now)
	for _, w := range result.Opened {
		m.notifyOpen(ctx, pair, f, w, net)
	}
	for _, w := range result.Closed {
		if err := m.opts.Recorder.WriteWindow(w); err != nil {
			return false, err
		}
		m.mirrorWindow(ctx, w)
	}
	return false, nil
}

func (m *Monitor) recordFailure(pair market.Pair, stale bool) {
	m.failures[pair.ID]++
	if m.failures[pair.ID] == failureThreshold {
		m.logger.Error().
			Str("pair_id", pair.ID).
			Bool("stale", stale).
			Msgf("连续%d次数据获取失败, pair marked ERROR", failureThreshold)
		m.failures[pair.ID] = 0
	}
}

func (m *Monitor) writeErrorRow(ctx context.Context, pair market.Pair, now time.Time) error {
	snap := recorder.Snapshot{Timestamp: now, MarketPair: pair.MarketName}
	if err := m.opts.Recorder.WriteSnapshot(snap); err != nil {
		return err
	}
	m.mirrorSnapshot(ctx, snap)
	return nil
}

func (m *Monitor) notifyOpen(ctx context.Context, pair market.Pair, f pairFetch, w *window.Window, net spread.Net) {
	if m.opts.Notifier == nil {
		return
	}
	sig := alerting.Signal{
		Time:       w.StartTime,
		PairID:     pair.ID,
		MarketPair: pair.MarketName,
		Direction:  w.Direction,
		NetSpread:  net.ByDirection(w.Direction),
		KalshiBid:  f.kalshi.Bid,
		KalshiAsk:  f.kalshi.Ask,
		PolyBid:    f.poly.Bid,
		PolyAsk:    f.poly.Ask,
	}
	if err := m.opts.Notifier.Notify(ctx, sig); err != nil {
		m.logger.Error().Err(err).Str("pair_id", pair.ID).Msg("failed to dispatch alert")
	}
}

func (m *Monitor) mirrorSnapshot(ctx context.Context, snap recorder.Snapshot) {
	if m.opts.Store == nil {
		return
	}
	row := storage.SnapshotRow{
		Timestamp:  snap.Timestamp,
		MarketPair: snap.MarketPair,
		OK:         snap.OK,
		KalshiBid:  snap.KalshiBid,
		KalshiAsk:  snap.KalshiAsk,
		PolyBid:    snap.PolyBid,
		PolyAsk:    snap.PolyAsk,
		TotalCost:  snap.TotalCost,
		NetKToP:    snap.NetKToP,
		NetPToK:    snap.NetPToK,
	}
	if err := m.opts.Store.InsertSnapshot(ctx, row); err != nil {
		m.logger.Error().Err(err).Msg("failed to mirror snapshot")
	}
}

func (m *Monitor) mirrorWindow(ctx context.Context, w *window.Window) {
	if m.opts.Store == nil {
		return
	}
	row := storage.WindowRow{
		WindowID:         w.ID,
		MarketPair:       w.MarketPair,
		StartTime:        w.StartTime,
		EndTime:          *w.EndTime,
		DurationSeconds:  w.Duration().Seconds(),
		PeakSpread:       w.PeakSpread,
		AvgSpread:        w.AvgSpread().Round(4),
		Direction:        string(w.Direction),
		ObservationCount: w.ObservationCount,
		Interrupted:      w.Interrupted,
	}
	if err := m.opts.Store.InsertWindow(ctx, row); err != nil {
		m.logger.Error().Err(err).Str("window_id", w.ID).Msg("failed to mirror window")
	}
}
