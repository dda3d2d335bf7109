package repository

import (
	"context"
	"errors"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// ErrAlertNotFound reports an acknowledge/resolve against an unknown id.
var ErrAlertNotFound = errors.New("alert not found")

const createAlertsTable = `
CREATE TABLE IF NOT EXISTS risk_alerts (
    id           BIGSERIAL   PRIMARY KEY,
    type         TEXT        NOT NULL,
    severity     TEXT        NOT NULL,
    message      TEXT        NOT NULL,
    symbols      TEXT[]      NOT NULL DEFAULT '{}',
    action       TEXT        NOT NULL DEFAULT '',
    acknowledged BOOLEAN     NOT NULL DEFAULT FALSE,
    resolved     BOOLEAN     NOT NULL DEFAULT FALSE,
    raised_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_alerts_raised_at
    ON risk_alerts (raised_at DESC);
`

type AlertRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewAlertRepository(pool PgxPool, tracer trace.Tracer) *AlertRepository {
	return &AlertRepository{pool: pool, tracer: tracer}
}

func (r *AlertRepository) RunMigrations(ctx context.Context) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "alert-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createAlertsTable)
	return err
}

// SaveAlert inserts the alert and fills in its assigned id.
func (r *AlertRepository) SaveAlert(ctx context.Context, alert *domain.RiskAlert) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "alert-repo.save-alert")
	defer span.End()

	symbols := alert.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO risk_alerts (type, severity, message, symbols, action, raised_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		string(alert.Type), string(alert.Severity), alert.Message, symbols, alert.Action, alert.RaisedAt,
	).Scan(&alert.ID)
}

// RecentAlerts lists newest-first; unresolved only unless includeResolved.
func (r *AlertRepository) RecentAlerts(ctx context.Context, limit int, includeResolved bool) ([]domain.RiskAlert, error) {
	if r.pool == nil {
		return nil, ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "alert-repo.recent-alerts")
	defer span.End()

	query := `SELECT id, type, severity, message, symbols, action, acknowledged, resolved, raised_at
	 FROM risk_alerts`
	if !includeResolved {
		query += ` WHERE NOT resolved`
	}
	query += ` ORDER BY raised_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []domain.RiskAlert
	for rows.Next() {
		var a domain.RiskAlert
		var typ, severity string
		if err := rows.Scan(&a.ID, &typ, &severity, &a.Message, &a.Symbols, &a.Action, &a.Acknowledged, &a.Resolved, &a.RaisedAt); err != nil {
			return nil, err
		}
		a.Type = domain.AlertType(typ)
		a.Severity = domain.AlertSeverity(severity)
		a.RaisedAt = a.RaisedAt.UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *AlertRepository) Acknowledge(ctx context.Context, id int64) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "alert-repo.acknowledge")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `UPDATE risk_alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (r *AlertRepository) Resolve(ctx context.Context, id int64) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "alert-repo.resolve")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `UPDATE risk_alerts SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}
