package repository

import (
	"context"
	"errors"

	"steady-hand/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

// ErrDatabaseUnavailable is returned by every repository method when the
// process started without a Postgres connection. Callers treat it like any
// other storage error, so the trading loop keeps running without the audit
// trail.
var ErrDatabaseUnavailable = errors.New("database unavailable")

const createOrderEventsTable = `
CREATE TABLE IF NOT EXISTS order_events (
    id          BIGSERIAL   PRIMARY KEY,
    order_id    TEXT        NOT NULL,
    symbol      TEXT        NOT NULL,
    from_state  TEXT        NOT NULL,
    to_state    TEXT        NOT NULL,
    fill_price  NUMERIC     NOT NULL DEFAULT 0,
    fill_qty    NUMERIC     NOT NULL DEFAULT 0,
    reason      TEXT        NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_order_id
    ON order_events (order_id, occurred_at);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderEventRepository is the append-only audit log of order state
// transitions. Rows are never updated or deleted.
type OrderEventRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewOrderEventRepository(pool PgxPool, tracer trace.Tracer) *OrderEventRepository {
	return &OrderEventRepository{pool: pool, tracer: tracer}
}

func (r *OrderEventRepository) RunMigrations(ctx context.Context) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "order-event-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createOrderEventsTable)
	return err
}

func (r *OrderEventRepository) AppendEvent(ctx context.Context, event domain.OrderEvent) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "order-event-repo.append-event")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO order_events (order_id, symbol, from_state, to_state, fill_price, fill_qty, reason, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.OrderID, event.Symbol, string(event.FromState), string(event.ToState),
		event.FillPrice, event.FillQty, event.Reason, event.At,
	)
	return err
}

func (r *OrderEventRepository) EventsForOrder(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	if r.pool == nil {
		return nil, ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "order-event-repo.events-for-order")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT order_id, symbol, from_state, to_state, fill_price, fill_qty, reason, occurred_at
		 FROM order_events
		 WHERE order_id = $1
		 ORDER BY occurred_at ASC, id ASC`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *OrderEventRepository) RecentEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error) {
	if r.pool == nil {
		return nil, ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "order-event-repo.recent-events")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT order_id, symbol, from_state, to_state, fill_price, fill_qty, reason, occurred_at
		 FROM order_events
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.OrderEvent, error) {
	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		var from, to string
		if err := rows.Scan(&e.OrderID, &e.Symbol, &from, &to, &e.FillPrice, &e.FillQty, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		e.FromState = domain.OrderState(from)
		e.ToState = domain.OrderState(to)
		e.At = e.At.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
