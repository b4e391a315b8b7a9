package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"arbwatch/internal/recorder"
	"arbwatch/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// Show prints recently closed opportunity windows, preferring the database
// mirror when configured and falling back to the CSV log.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("database unavailable; reading CSV log")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var rows []storage.WindowRow
	if store != nil {
		rows, err = store.ListRecentWindows(ctx, opts.Limit)
	} else {
		rows, err = readWindowsCSV(filepath.Join(a.LogDir, recorder.WindowsFile), opts.Limit)
	}
	if err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no closed windows found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "End (UTC)\tPair\tDir\tDuration(s)\tPeak\tAvg\tObs\tInterrupted")
	for _, w := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%.3f\t%s\t%s\t%d\t%t\n",
			w.EndTime.UTC().Format(time.RFC3339),
			w.MarketPair,
			w.Direction,
			w.DurationSeconds,
			w.PeakSpread.StringFixed(4),
			w.AvgSpread.StringFixed(4),
			w.ObservationCount,
			w.Interrupted,
		)
	}
	writer.Flush()
	return nil
}

// readWindowsCSV tails the last limit rows of the window log.
func readWindowsCSV(path string, limit int) ([]storage.WindowRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read window header: %w", err)
	}

	var rows []storage.WindowRow
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := parseWindowRecord(record)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	// newest first, matching the database query
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func parseWindowRecord(record []string) (storage.WindowRow, error) {
	if len(record) < 9 {
		return storage.WindowRow{}, fmt.Errorf("window row has %d columns", len(record))
	}

	start, err := time.Parse(recorder.CSVTimeFormat, record[2])
	if err != nil {
		return storage.WindowRow{}, err
	}
	end, err := time.Parse(recorder.CSVTimeFormat, record[3])
	if err != nil {
		return storage.WindowRow{}, err
	}
	duration, err := strconv.ParseFloat(record[4], 64)
	if err != nil {
		return storage.WindowRow{}, err
	}
	peak, err := decimal.NewFromString(record[5])
	if err != nil {
		return storage.WindowRow{}, err
	}
	avg, err := decimal.NewFromString(record[6])
	if err != nil {
		return storage.WindowRow{}, err
	}
	count, err := strconv.Atoi(record[8])
	if err != nil {
		return storage.WindowRow{}, err
	}

	row := storage.WindowRow{
		WindowID:         record[0],
		MarketPair:       record[1],
		StartTime:        start,
		EndTime:          end,
		DurationSeconds:  duration,
		PeakSpread:       peak,
		AvgSpread:        avg,
		Direction:        record[7],
		ObservationCount: count,
	}
	if len(record) > 9 {
		row.Interrupted, _ = strconv.ParseBool(record[9])
	}
	return row, nil
}
