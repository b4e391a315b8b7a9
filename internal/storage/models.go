package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotRow mirrors one price_snapshots.csv observation.
type SnapshotRow struct {
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
	CreatedAt  time.Time
}

// WindowRow mirrors one closed opportunity window.
type WindowRow struct {
	WindowID         string
	MarketPair       string
	StartTime        time.Time
	EndTime          time.Time
	DurationSeconds  float64
	PeakSpread       decimal.Decimal
	AvgSpread        decimal.Decimal
	Direction        string
	ObservationCount int
	Interrupted      bool
	CreatedAt        time.Time
}
