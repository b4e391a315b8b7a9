package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS price_snapshots (
        ts          TIMESTAMPTZ NOT NULL,
        market_pair TEXT        NOT NULL,
        ok          BOOLEAN     NOT NULL,
        kalshi_bid  NUMERIC,
        kalshi_ask  NUMERIC,
        poly_bid    NUMERIC,
        poly_ask    NUMERIC,
        total_cost  NUMERIC,
        net_k_to_p  NUMERIC,
        net_p_to_k  NUMERIC,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (ts, market_pair)
    );
    CREATE TABLE IF NOT EXISTS opportunity_windows (
        window_id         TEXT        PRIMARY KEY,
        market_pair       TEXT        NOT NULL,
        start_time        TIMESTAMPTZ NOT NULL,
        end_time          TIMESTAMPTZ NOT NULL,
        duration_seconds  DOUBLE PRECISION NOT NULL,
        peak_spread       NUMERIC     NOT NULL,
        avg_spread        NUMERIC     NOT NULL,
        direction         TEXT        NOT NULL,
        observation_count INTEGER     NOT NULL,
        interrupted       BOOLEAN     NOT NULL,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertSnapshotSQL = `INSERT INTO price_snapshots (
        ts, market_pair, ok,
        kalshi_bid, kalshi_ask, poly_bid, poly_ask,
        total_cost, net_k_to_p, net_p_to_k
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    ON CONFLICT (ts, market_pair) DO NOTHING;`

	insertWindowSQL = `INSERT INTO opportunity_windows (
        window_id, market_pair, start_time, end_time, duration_seconds,
        peak_spread, avg_spread, direction, observation_count, interrupted
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    ON CONFLICT (window_id) DO NOTHING;`

	listRecentWindowsSQL = `SELECT
        window_id, market_pair, start_time, end_time, duration_seconds,
        peak_spread, avg_spread, direction, observation_count, interrupted,
        created_at
    FROM opportunity_windows
    ORDER BY end_time DESC
    LIMIT $1;`
)

// Store mirrors the CSV sinks into PostgreSQL for querying. It is optional:
// the files remain the source of truth.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an initialised pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the mirror tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertSnapshot mirrors one observation row.
func (s *Store) InsertSnapshot(ctx context.Context, row SnapshotRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var kb, ka, pb, pa, cost, ktop, ptok any
	if row.OK {
		kb, ka = row.KalshiBid, row.KalshiAsk
		pb, pa = row.PolyBid, row.PolyAsk
		cost = row.TotalCost
		ktop, ptok = row.NetKToP, row.NetPToK
	}

	if _, err := pool.Exec(ctx, insertSnapshotSQL,
		row.Timestamp, row.MarketPair, row.OK,
		kb, ka, pb, pa, cost, ktop, ptok,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// InsertWindow mirrors one closed window.
func (s *Store) InsertWindow(ctx context.Context, row WindowRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertWindowSQL,
		row.WindowID, row.MarketPair, row.StartTime, row.EndTime,
		row.DurationSeconds, row.PeakSpread, row.AvgSpread,
		row.Direction, row.ObservationCount, row.Interrupted,
	); err != nil {
		return fmt.Errorf("insert window: %w", err)
	}
	return nil
}

// ListRecentWindows returns the most recently closed windows.
func (s *Store) ListRecentWindows(ctx context.Context, limit int) ([]WindowRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := pool.Query(ctx, listRecentWindowsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var out []WindowRow
	for rows.Next() {
		var w WindowRow
		var created time.Time
		if err := rows.Scan(
			&w.WindowID, &w.MarketPair, &w.StartTime, &w.EndTime,
			&w.DurationSeconds, &w.PeakSpread, &w.AvgSpread,
			&w.Direction, &w.ObservationCount, &w.Interrupted, &created,
		); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		w.CreatedAt = created
		out = append(out, w)
	}
	return out, rows.Err()
}
