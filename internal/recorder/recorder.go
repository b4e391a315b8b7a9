package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/window"
)

// Output file names inside the log directory.
const (
	SnapshotsFile = "price_snapshots.csv"
	WindowsFile   = "opportunity_windows.csv"
	ErrorsFile    = "errors.log"
)

// CSVTimeFormat is ISO-8601 UTC with millisecond precision, used for every
// timestamp column in the CSV sinks.
const CSVTimeFormat = "2006-01-02T15:04:05.000Z"

// SnapshotHeader and WindowHeader are the CSV column sets, exported so
// readers (replay, export) stay aligned with the writer.
var SnapshotHeader = []string{
	"timestamp",
	"market_pair",
	"kalshi_bid",
	"kalshi_ask",
	"poly_bid",
	"poly_ask",
	"total_cost",
	"net_spread_buy_K_sell_P",
	"net_spread_buy_P_sell_K",
}

var WindowHeader = []string{
	"window_id",
	"market_pair",
	"start_time",
	"end_time",
	"duration_seconds",
	"peak_spread",
	"avg_spread",
	"direction",
	"observation_count",
	"interrupted",
}

// Snapshot is one per-pair observation row. When OK is false the numeric
// columns are written empty.
type Snapshot struct {
	Timestamp  time.Time
	MarketPair string
	OK         bool
	KalshiBid  decimal.Decimal
	KalshiAsk  decimal.Decimal
	PolyBid    decimal.Decimal
	PolyAsk    decimal.Decimal
	TotalCost  decimal.Decimal
	NetKToP    decimal.Decimal
	NetPToK    decimal.Decimal
}

// Recorder owns the three append-only sinks. Exactly one goroutine may call
// the write methods; the event logger is internally synchronised by the
// single underlying file descriptor (one write syscall per line).
type Recorder struct {
	snapshots *csvSink
	windows   *csvSink
	eventsF   *os.File
	events    zerolog.Logger
	logger    zerolog.Logger
}

// Open creates or re-opens the three sinks under dir. CSV headers are
// written only when a file is created.
func Open(dir string, logger zerolog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	snapshots, err := openSink(filepath.Join(dir, SnapshotsFile), SnapshotHeader)
	if err != nil {
		return nil, err
	}
	windows, err := openSink(filepath.Join(dir, WindowsFile), WindowHeader)
	if err != nil {
		snapshots.Close()
		return nil, err
	}
	eventsF, err := os.OpenFile(filepath.Join(dir, ErrorsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		snapshots.Close()
		windows.Close()
		return nil, fmt.Errorf("open %s: %w", ErrorsFile, err)
	}

	return &Recorder{
		snapshots: snapshots,
		windows:   windows,
		eventsF:   eventsF,
		events:    zerolog.New(eventsF).With().Timestamp().Logger(),
		logger:    logger.With().Str("component", "recorder").Logger(),
	}, nil
}

// WriteSnapshot appends one observation row and flushes it.
func (r *Recorder) WriteSnapshot(s Snapshot) error {
	record := []string{
		s.Timestamp.UTC().Format(CSVTimeFormat),
		s.MarketPair,
		"", "", "", "", "", "", "",
	}
	if s.OK {
		record[2] = s.KalshiBid.StringFixed(4)
		record[3] = s.KalshiAsk.StringFixed(4)
		record[4] = s.PolyBid.StringFixed(4)
		record[5] = s.PolyAsk.StringFixed(4)
		record[6] = s.TotalCost.StringFixed(4)
		record[7] = s.NetKToP.StringFixed(4)
		record[8] = s.NetPToK.StringFixed(4)
	}
	return r.snapshots.Append(record)
}

// WindowRecord renders a closed window as a CSV record in WindowHeader
// order. Replay uses it to reproduce the live formatting exactly.
func WindowRecord(w *window.Window) []string {
	return []string{
		w.ID,
		w.MarketPair,
		w.StartTime.UTC().Format(CSVTimeFormat),
		w.EndTime.UTC().Format(CSVTimeFormat),
		strconv.FormatFloat(w.Duration().Seconds(), 'f', 3, 64),
		w.PeakSpread.StringFixed(4),
		w.AvgSpread().Round(4).StringFixed(4),
		string(w.Direction),
		strconv.Itoa(w.ObservationCount),
		strconv.FormatBool(w.Interrupted),
	}
}

// WriteWindow appends one closed-window row and flushes it.
func (r *Recorder) WriteWindow(w *window.Window) error {
	if w.EndTime == nil {
		return fmt.Errorf("window %s still open", w.ID)
	}
	return r.windows.Append(WindowRecord(w))
}

// Event kinds for errors.log lines.
const (
	KindRateLimited       = "rate_limited"
	KindValidationFailed  = "validation_failed"
	KindTransportError    = "transport_error"
	KindCrossedBook       = "crossed_book"
	KindBackoffApplied    = "backoff_applied"
	KindCooldownRelaxed   = "cooldown_relaxed"
	KindWindowForcedClose = "window_forced_close"
)

// RateLimited records a 429 observed for one pair's fetch.
func (r *Recorder) RateLimited(pairID string, status int) {
	r.events.Warn().Str("kind", KindRateLimited).
		Str("pair_id", pairID).Int("http_status", status).
		Msg("")
}

// TransportError records a non-429 fetch failure.
func (r *Recorder) TransportError(pairID string, status int, detail string) {
	ev := r.events.Warn().Str("kind", KindTransportError).Str("pair_id", pairID)
	if status != 0 {
		ev = ev.Int("http_status", status)
	}
	ev.Str("detail", detail).Msg("")
}

// ValidationFailed records a quote rejected by the validator.
func (r *Recorder) ValidationFailed(pairID, detail string) {
	r.events.Warn().Str("kind", KindValidationFailed).
		Str("pair_id", pairID).Str("detail", detail).
		Msg("")
}

// CrossedBook records the both-directions-positive pathology.
func (r *Recorder) CrossedBook(pairID string, kToP, pToK decimal.Decimal) {
	r.events.Warn().Str("kind", KindCrossedBook).
		Str("pair_id", pairID).
		Str("detail", fmt.Sprintf("K→P %s and P→K %s both positive", kToP, pToK)).
		Msg("")
}

// BackoffApplied records a rate-limit backoff decision.
func (r *Recorder) BackoffApplied(sleep, newInterval time.Duration) {
	r.events.Warn().Str("kind", KindBackoffApplied).
		Float64("backoff_seconds", sleep.Seconds()).
		Float64("new_interval", newInterval.Seconds()).
		Msg("")
}

// CooldownRelaxed records an interval relaxation step.
func (r *Recorder) CooldownRelaxed(newInterval time.Duration) {
	r.events.Info().Str("kind", KindCooldownRelaxed).
		Float64("new_interval", newInterval.Seconds()).
		Msg("")
}

// WindowForcedClose records a window terminated without a spread reversal.
func (r *Recorder) WindowForcedClose(pairID, windowID, detail string) {
	r.events.Warn().Str("kind", KindWindowForcedClose).
		Str("pair_id", pairID).Str("window_id", windowID).
		Str("detail", detail).
		Msg("")
}

// Close flushes and closes all sinks.
func (r *Recorder) Close() error {
	var firstErr error
	if err := r.snapshots.Close(); err != nil {
		firstErr = err
	}
	if err := r.windows.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventsF.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
