package repository

import (
	"context"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const createPositionSnapshotsTable = `
CREATE TABLE IF NOT EXISTS position_snapshots (
    id           BIGSERIAL   PRIMARY KEY,
    symbol       TEXT        NOT NULL,
    side         TEXT        NOT NULL,
    entry_price  NUMERIC     NOT NULL,
    exit_price   NUMERIC     NOT NULL,
    realized_pnl NUMERIC     NOT NULL,
    strategy     TEXT        NOT NULL DEFAULT '',
    opened_at    TIMESTAMPTZ NOT NULL,
    closed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_position_snapshots_closed_at
    ON position_snapshots (closed_at DESC);
`

// PositionRepository archives positions at the moment they close. The live
// book stays in memory; this table is the historical record.
type PositionRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPositionRepository(pool PgxPool, tracer trace.Tracer) *PositionRepository {
	return &PositionRepository{pool: pool, tracer: tracer}
}

func (r *PositionRepository) RunMigrations(ctx context.Context) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "position-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPositionSnapshotsTable)
	return err
}

func (r *PositionRepository) SavePosition(ctx context.Context, pos domain.Position) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "position-repo.save-position")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO position_snapshots (symbol, side, entry_price, exit_price, realized_pnl, strategy, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pos.Symbol, string(pos.Side), pos.EntryPrice, pos.MarkPrice, pos.RealizedPnL,
		pos.Strategy, pos.OpenedAt, pos.UpdatedAt,
	)
	return err
}

func (r *PositionRepository) RecentClosed(ctx context.Context, limit int) ([]domain.Position, error) {
	if r.pool == nil {
		return nil, ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "position-repo.recent-closed")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, side, entry_price, exit_price, realized_pnl, strategy, opened_at, closed_at
		 FROM position_snapshots
		 ORDER BY closed_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side string
		if err := rows.Scan(&p.Symbol, &side, &p.EntryPrice, &p.MarkPrice, &p.RealizedPnL, &p.Strategy, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Side = domain.Direction(side)
		p.OpenedAt = p.OpenedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
