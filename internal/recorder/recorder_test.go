package recorder

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/spread"
	"arbwatch/internal/window"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	rec, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec, dir
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

func TestSnapshotRowFormat(t *testing.T) {
	rec, dir := openTestRecorder(t)

	snap := Snapshot{
		Timestamp:  t0.Add(123 * time.Millisecond),
		MarketPair: "Fed hike June",
		OK:         true,
		KalshiBid:  dec("0.40"),
		KalshiAsk:  dec("0.42"),
		PolyBid:    dec("0.50"),
		PolyAsk:    dec("0.52"),
		TotalCost:  dec("0.05"),
		NetKToP:    dec("0.03"),
		NetPToK:    dec("-0.17"),
	}
	if err := rec.WriteSnapshot(snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, SnapshotsFile))
	if len(rows) != 2 {
		t.Fatalf("want header + 1 row, got %d rows", len(rows))
	}
	if got := strings.Join(rows[0], ","); got != strings.Join(SnapshotHeader, ",") {
		t.Fatalf("header mismatch: %s", got)
	}

	row := rows[1]
	if row[0] != "2025-06-01T12:00:00.123Z" {
		t.Fatalf("timestamp format: got %s", row[0])
	}
	if row[2] != "0.4000" || row[7] != "0.0300" || row[8] != "-0.1700" {
		t.Fatalf("numeric formatting: %v", row)
	}
}

func TestErrorRowHasEmptyNumerics(t *testing.T) {
	rec, dir := openTestRecorder(t)

	if err := rec.WriteSnapshot(Snapshot{Timestamp: t0, MarketPair: "T1"}); err != nil {
		t.Fatalf("write error row: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, SnapshotsFile))
	row := rows[1]
	for i := 2; i < len(row); i++ {
		if row[i] != "" {
			t.Fatalf("column %d should be empty on error rows, got %q", i, row[i])
		}
	}
}

func TestWindowRowFormat(t *testing.T) {
	rec, dir := openTestRecorder(t)

	tr := window.NewTracker()
	tr.Observe("T1", "T1", spread.Net{KToP: dec("0.02"), PToK: dec("-1")}, t0)
	tr.Observe("T1", "T1", spread.Net{KToP: dec("0.04"), PToK: dec("-1")}, t0.Add(time.Second))
	res := tr.Observe("T1", "T1", spread.Net{KToP: dec("-0.01"), PToK: dec("-1")}, t0.Add(2*time.Second))
	if len(res.Closed) != 1 {
		t.Fatalf("fixture should close one window")
	}

	if err := rec.WriteWindow(res.Closed[0]); err != nil {
		t.Fatalf("write window: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, WindowsFile))
	row := rows[1]
	if row[4] != "2.000" {
		t.Fatalf("duration_seconds: want 2.000, got %s", row[4])
	}
	if row[5] != "0.0400" || row[6] != "0.0300" {
		t.Fatalf("peak/avg: %v", row)
	}
	if row[7] != "K→P" {
		t.Fatalf("direction label: got %s", row[7])
	}
	if row[9] != "false" {
		t.Fatalf("interrupted column: got %s", row[9])
	}
}

func TestWriteWindowRejectsOpenWindow(t *testing.T) {
	rec, _ := openTestRecorder(t)

	tr := window.NewTracker()
	tr.Observe("T1", "T1", spread.Net{KToP: dec("0.02"), PToK: dec("-1")}, t0)
	open := tr.OpenWindows()[0]

	if err := rec.WriteWindow(open); err == nil {
		t.Fatal("writing a still-open window must fail")
	}
}

func TestReopenDoesNotDuplicateHeader(t *testing.T) {
	dir := t.TempDir()

	rec, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec.WriteSnapshot(Snapshot{Timestamp: t0, MarketPair: "T1"})
	rec.Close()

	rec, err = Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec.WriteSnapshot(Snapshot{Timestamp: t0.Add(time.Second), MarketPair: "T1"})
	rec.Close()

	rows := readCSV(t, filepath.Join(dir, SnapshotsFile))
	if len(rows) != 3 {
		t.Fatalf("want header + 2 rows across restarts, got %d", len(rows))
	}
	if rows[1][0] == "timestamp" || rows[2][0] == "timestamp" {
		t.Fatal("header written twice")
	}
}

func TestEventsLogShape(t *testing.T) {
	// field names must match the errors.log contract
	zerolog.TimestampFieldName = "ts"
	rec, dir := openTestRecorder(t)

	rec.RateLimited("T1", 429)
	rec.BackoffApplied(30*time.Second, 3*time.Second)
	rec.WindowForcedClose("T1", "w-1", "shutdown")

	data, err := os.ReadFile(filepath.Join(dir, ErrorsFile))
	if err != nil {
		t.Fatalf("read errors.log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 event lines, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("errors.log line not JSON: %v", err)
	}
	if first["kind"] != KindRateLimited || first["pair_id"] != "T1" {
		t.Fatalf("rate_limited line: %v", first)
	}
	if first["http_status"] != float64(429) {
		t.Fatalf("http_status: %v", first["http_status"])
	}
	if _, ok := first["ts"]; !ok {
		t.Fatalf("missing ts field: %v", first)
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("backoff line not JSON: %v", err)
	}
	if second["backoff_seconds"] != float64(30) || second["new_interval"] != float64(3) {
		t.Fatalf("backoff line: %v", second)
	}
}
