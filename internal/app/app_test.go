package app

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/checkpoint"
	"arbwatch/internal/clock"
	"arbwatch/internal/recorder"
	"arbwatch/internal/scheduler"
	"arbwatch/internal/spread"
	"arbwatch/internal/window"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

// writeTrace records a sequence of observations the way the live monitor
// does: snapshot row first, then window transitions. A nil net means an
// error observation.
func writeTrace(t *testing.T, dir string, label string, nets []*spread.Net) {
	t.Helper()
	rec, err := recorder.Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	defer rec.Close()

	tracker := window.NewTracker()
	for i, net := range nets {
		now := t0.Add(time.Duration(i) * time.Second)
		if net == nil {
			if err := rec.WriteSnapshot(recorder.Snapshot{Timestamp: now, MarketPair: label}); err != nil {
				t.Fatal(err)
			}
			for _, w := range tracker.ObserveError(label, now) {
				if err := rec.WriteWindow(w); err != nil {
					t.Fatal(err)
				}
			}
			continue
		}
		snap := recorder.Snapshot{
			Timestamp:  now,
			MarketPair: label,
			OK:         true,
			KalshiBid:  dec("0.40"),
			KalshiAsk:  dec("0.42"),
			PolyBid:    dec("0.50"),
			PolyAsk:    dec("0.51"),
			TotalCost:  dec("0.04"),
			NetKToP:    net.KToP,
			NetPToK:    net.PToK,
		}
		if err := rec.WriteSnapshot(snap); err != nil {
			t.Fatal(err)
		}
		res := tracker.Observe(label, label, *net, now)
		for _, w := range res.Closed {
			if err := rec.WriteWindow(w); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func net(kToP, pToK string) *spread.Net {
	return &spread.Net{KToP: dec(kToP), PToK: dec(pToK)}
}

func TestReplayReproducesWindowLog(t *testing.T) {
	dir := t.TempDir()

	writeTrace(t, dir, "Fed hike June", []*spread.Net{
		net("-0.01", "-0.10"),
		net("0.02", "-0.10"),
		net("0.04", "-0.10"),
		nil, // one bad tick inside the window: stats hold
		net("0.03", "-0.10"),
		net("-0.005", "0.01"), // K→P closes, P→K opens
		net("-0.005", "-0.01"),
	})

	a := &App{Logger: zerolog.Nop()}
	out := filepath.Join(dir, "replayed.csv")
	err := a.Replay(ReplayOptions{
		SnapshotsPath: filepath.Join(dir, recorder.SnapshotsFile),
		OutPath:       out,
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	want := readCSV(t, filepath.Join(dir, recorder.WindowsFile))
	got := readCSV(t, out)

	if len(got) != len(want) {
		t.Fatalf("row count: want %d, got %d", len(want), len(got))
	}
	for i := range want {
		for col := range want[i] {
			if col == 0 && i > 0 {
				continue // window_id differs by construction
			}
			if want[i][col] != got[i][col] {
				t.Fatalf("row %d col %d: want %q, got %q", i, col, want[i][col], got[i][col])
			}
		}
	}
}

func newRecoveryFixture(t *testing.T) (*App, string, *window.Tracker, *scheduler.Scheduler, *recorder.Recorder) {
	t.Helper()
	dir := t.TempDir()
	rec, err := recorder.Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rec.Close() })

	a := &App{Logger: zerolog.Nop(), LogDir: dir}
	tracker := window.NewTracker()
	sched := scheduler.New(scheduler.Options{BaseInterval: 2 * time.Second}, clock.Real{}, rec, zerolog.Nop())
	return a, dir, tracker, sched, rec
}

func checkpointWithWindow(t *testing.T, path string, lastUpdated time.Time) *window.Window {
	t.Helper()
	tr := window.NewTracker()
	tr.Observe("T1", "Fed hike June", spread.Net{KToP: dec("0.02"), PToK: dec("-1")}, lastUpdated.Add(-30*time.Second))
	open := tr.OpenWindows()

	st := checkpoint.State{
		LastUpdated:   lastUpdated,
		RateLimit:     checkpoint.RateLimit{CurrentInterval: 6, Recent429Count: 2},
		ActiveWindows: open,
	}
	if err := checkpoint.Save(path, st); err != nil {
		t.Fatal(err)
	}
	return open[0]
}

func TestRecoverWithinGraceResumes(t *testing.T) {
	a, dir, tracker, sched, rec := newRecoveryFixture(t)
	path := filepath.Join(dir, checkpoint.StateFile)
	saved := checkpointWithWindow(t, path, time.Now().UTC().Add(-time.Minute))

	if err := a.recover(path, 5*time.Minute, tracker, sched, rec); err != nil {
		t.Fatalf("recover: %v", err)
	}

	open := tracker.OpenWindows()
	if len(open) != 1 || open[0].ID != saved.ID {
		t.Fatalf("fresh checkpoint must resume windows: %+v", open)
	}
	if got := sched.RateLimit().Current(); got != 6*time.Second {
		t.Fatalf("rate limit must restore: %s", got)
	}

	wins := readCSV(t, filepath.Join(dir, recorder.WindowsFile))
	if len(wins) != 1 {
		t.Fatalf("no forced-close rows expected, got %d", len(wins)-1)
	}
}

func TestRecoverStaleForcesClose(t *testing.T) {
	a, dir, tracker, sched, rec := newRecoveryFixture(t)
	path := filepath.Join(dir, checkpoint.StateFile)
	lastUpdated := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Millisecond)
	checkpointWithWindow(t, path, lastUpdated)

	if err := a.recover(path, 5*time.Minute, tracker, sched, rec); err != nil {
		t.Fatalf("recover: %v", err)
	}

	if len(tracker.OpenWindows()) != 0 {
		t.Fatal("stale checkpoint must not resume windows")
	}

	wins := readCSV(t, filepath.Join(dir, recorder.WindowsFile))
	if len(wins) != 2 {
		t.Fatalf("want one forced-close row, got %d", len(wins)-1)
	}
	row := wins[1]
	if row[9] != "true" {
		t.Fatalf("stale close must be interrupted: %v", row)
	}
	if row[3] != lastUpdated.UTC().Format(recorder.CSVTimeFormat) {
		t.Fatalf("end_time must be last_updated: %v", row)
	}
}

func TestExitCodeMapping(t *testing.T) {
	if got := ExitCode(nil); got != ExitOK {
		t.Fatalf("nil: %d", got)
	}
	if got := ExitCode(errors.New("bad config")); got != ExitConfig {
		t.Fatalf("plain error: %d", got)
	}
	if got := ExitCode(&ExitError{Code: ExitIO, Err: errors.New("disk")}); got != ExitIO {
		t.Fatalf("io: %d", got)
	}
	if got := ExitCode(&ExitError{Code: ExitInterrupted, Err: errors.New("signal")}); got != ExitInterrupted {
		t.Fatalf("signal: %d", got)
	}
}
