package db

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

var Pool *pgxpool.Pool

var (
	openPool = pgxpool.New
	pingPool = func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.Ping(ctx)
	}
)

// InitPostgres opens the shared connection pool. Postgres holds the order
// audit log and position snapshots, so a missing database is a hard error for
// callers that need crash recovery.
func InitPostgres(ctx context.Context, dsn string) error {
	if dsn == "" {
		return fmt.Errorf("postgres: empty DATABASE_URL")
	}

	pool, err := openPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pingPool(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	Pool = pool
	log.Println("Connected to Postgres")
	return nil
}

// Close releases the pool. Safe to call when InitPostgres never succeeded.
func Close() {
	if Pool != nil {
		Pool.Close()
		Pool = nil
	}
}
