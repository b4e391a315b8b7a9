package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"arbwatch/internal/recorder"
	"arbwatch/internal/spread"
	"arbwatch/internal/window"
)

// ReplayOptions configure the snapshot-log replay.
type ReplayOptions struct {
	SnapshotsPath string
	OutPath       string
}

// Replay feeds a price_snapshots.csv back through a fresh window tracker and
// writes the windows it produces, as a closed-loop check of the recorded data.
// Windows closed by the spread or by consecutive error rows come out as in the
// live opportunity_windows.csv apart from window_id. Windows the live run
// closed at shutdown or at stale-checkpoint recovery are not reproduced; they
// stay open here and are counted as still open. duration_seconds is computed
// from the millisecond timestamps of the snapshot log, so it can differ in the
// last digit from the live value, which uses full-precision times.
func (a *App) Replay(opts ReplayOptions) error {
	in, err := os.Open(opts.SnapshotsPath)
	if err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}
	defer in.Close()

	out, err := os.Create(opts.OutPath)
	if err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(recorder.WindowHeader); err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}

	tracker := window.NewTracker()
	rows, err := replayRows(in, tracker, w)
	if err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}

	open := len(tracker.OpenWindows())
	a.Logger.Info().
		Int("snapshot_rows", rows).
		Int("still_open", open).
		Str("out", opts.OutPath).
		Msg("replay complete")
	return nil
}

func replayRows(in io.Reader, tracker *window.Tracker, w *csv.Writer) (int, error) {
	r := csv.NewReader(in)
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read snapshot header: %w", err)
	}
	if len(header) < len(recorder.SnapshotHeader) {
		return 0, errors.New("snapshot file has too few columns")
	}

	rows := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("read snapshot row %d: %w", rows+1, err)
		}
		rows++

		ts, err := time.Parse(recorder.CSVTimeFormat, record[0])
		if err != nil {
			return rows, fmt.Errorf("row %d: bad timestamp %q: %w", rows, record[0], err)
		}
		label := record[1]

		if record[7] == "" || record[8] == "" {
			// error observation: stats hold, streak advances
			for _, fw := range tracker.ObserveError(label, ts) {
				if err := w.Write(recorder.WindowRecord(fw)); err != nil {
					return rows, err
				}
			}
			continue
		}

		kToP, err := decimal.NewFromString(record[7])
		if err != nil {
			return rows, fmt.Errorf("row %d: bad K→P spread %q: %w", rows, record[7], err)
		}
		pToK, err := decimal.NewFromString(record[8])
		if err != nil {
			return rows, fmt.Errorf("row %d: bad P→K spread %q: %w", rows, record[8], err)
		}

		res := tracker.Observe(label, label, spread.Net{KToP: kToP, PToK: pToK}, ts)
		for _, cw := range res.Closed {
			if err := w.Write(recorder.WindowRecord(cw)); err != nil {
				return rows, err
			}
		}
	}
}
