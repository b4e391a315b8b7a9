package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"arbwatch/internal/recorder"
)

// ExportOptions hold parameters for exporting the recorded spread history.
type ExportOptions struct {
	Pair      string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

type spreadPoint struct {
	ts   time.Time
	kToP float64
	pToK float64
	cost float64
}

// Export renders the snapshot log for one pair as CSV and/or a PNG chart.
func (a *App) Export(opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Pair == "" {
		return errors.New("--pair is required")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = 100000
	}

	points, err := readSpreadPoints(filepath.Join(a.LogDir, recorder.SnapshotsFile), opts.Pair)
	if err != nil {
		return &ExitError{Code: ExitIO, Err: err}
	}
	if len(points) == 0 {
		a.Logger.Info().Str("pair", opts.Pair).Msg("no OK snapshot rows found for export")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting spread history")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, opts.Pair, downsampled); err != nil {
			return &ExitError{Code: ExitIO, Err: err}
		}
	}
	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, downsampled); err != nil {
			return &ExitError{Code: ExitIO, Err: err}
		}
	}
	return nil
}

func readSpreadPoints(path, pair string) ([]spreadPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}

	var points []spreadPoint
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if err != nil {
			return nil, err
		}
		if record[1] != pair || record[7] == "" || record[8] == "" {
			continue
		}

		ts, err := time.Parse(recorder.CSVTimeFormat, record[0])
		if err != nil {
			continue
		}
		kToP, err1 := strconv.ParseFloat(record[7], 64)
		pToK, err2 := strconv.ParseFloat(record[8], 64)
		cost, err3 := strconv.ParseFloat(record[6], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		points = append(points, spreadPoint{ts: ts, kToP: kToP, pToK: pToK, cost: cost})
	}
}

func downsamplePoints(points []spreadPoint, max int) []spreadPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]spreadPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path, pair string, points []spreadPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "market_pair", "net_spread_buy_K_sell_P", "net_spread_buy_P_sell_K", "total_cost"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.ts.UTC().Format(recorder.CSVTimeFormat),
			pair,
			strconv.FormatFloat(p.kToP, 'f', 4, 64),
			strconv.FormatFloat(p.pToK, 'f', 4, 64),
			strconv.FormatFloat(p.cost, 'f', 4, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writePointsPNG(path string, points []spreadPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	kToP := make([]float64, len(points))
	pToK := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.ts
		kToP[i] = p.kToP
		pToK[i] = p.pToK
	}

	spreadFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Net spread (USD)",
			ValueFormatter: spreadFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "K→P",
				XValues: x,
				YValues: kToP,
			},
			chart.TimeSeries{
				Name:    "P→K",
				XValues: x,
				YValues: pToK,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
