package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if maxOpen > 0 {
		poolConfig.MaxConns = int32(maxOpen)
	}
	if maxIdle > 0 {
		poolConfig.MinConns = int32(maxIdle)
	}
	if maxLifetime > 0 {
		poolConfig.MaxConnLifetime = maxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}
