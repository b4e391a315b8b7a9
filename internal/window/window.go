package window

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbwatch/internal/spread"
)

// Window is one opportunity window: a maximal run of observations with a
// strictly positive net spread in a single direction. It is created and
// mutated exclusively by the Tracker.
type Window struct {
	ID               string           `json:"window_id"`
	PairID           string           `json:"pair_id"`
	MarketPair       string           `json:"market_pair"`
	Direction        spread.Direction `json:"direction"`
	StartTime        time.Time        `json:"start_time"`
	LastSeenTime     time.Time        `json:"last_seen_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	PeakSpread       decimal.Decimal  `json:"peak_spread"`
	SumSpread        decimal.Decimal  `json:"sum_spread"`
	ObservationCount int              `json:"observation_count"`
	Interrupted      bool             `json:"interrupted"`
}

func newWindow(pairID, label string, dir spread.Direction, s decimal.Decimal, now time.Time) *Window {
	return &Window{
		ID:               uuid.NewString(),
		PairID:           pairID,
		MarketPair:       label,
		Direction:        dir,
		StartTime:        now,
		LastSeenTime:     now,
		PeakSpread:       s,
		SumSpread:        s,
		ObservationCount: 1,
	}
}

func (w *Window) update(s decimal.Decimal, now time.Time) {
	w.LastSeenTime = now
	w.ObservationCount++
	w.SumSpread = w.SumSpread.Add(s)
	if s.GreaterThan(w.PeakSpread) {
		w.PeakSpread = s
	}
}

func (w *Window) close(now time.Time, interrupted bool) {
	end := now
	w.EndTime = &end
	w.Interrupted = w.Interrupted || interrupted
}

// CloseInterrupted freezes a still-open window at end with the interrupted
// flag set. Used for stale-checkpoint recovery, which operates outside the
// tracker.
func (w *Window) CloseInterrupted(end time.Time) {
	if w.EndTime == nil {
		w.close(end, true)
	}
}

// AvgSpread is SumSpread / ObservationCount.
func (w *Window) AvgSpread() decimal.Decimal {
	if w.ObservationCount == 0 {
		return decimal.Zero
	}
	return w.SumSpread.Div(decimal.NewFromInt(int64(w.ObservationCount)))
}

// Duration is the monotonic span from open to close (zero while open).
func (w *Window) Duration() time.Duration {
	if w.EndTime == nil {
		return 0
	}
	return w.EndTime.Sub(w.StartTime)
}

// Clone returns a copy safe to hand outside the tracker's lock.
func (w *Window) Clone() *Window {
	cp := *w
	if w.EndTime != nil {
		end := *w.EndTime
		cp.EndTime = &end
	}
	return &cp
}
