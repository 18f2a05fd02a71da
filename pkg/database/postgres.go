package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
)

// DB is the pgxpool handle shared by every repository. Repositories take it
// by constructor, so tests can point them at a container database.
type DB struct {
	*pgxpool.Pool
}

// NewConnection opens the snapshot store and verifies it with a ping. Pool
// sizing comes from the database configuration; lifetime and idle limits are
// fixed since catalog passes hold no long transactions.
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns < 1 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases the underlying pool.
func (db *DB) Close() {
	db.Pool.Close()
}
