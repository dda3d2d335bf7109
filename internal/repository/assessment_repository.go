package repository

import (
	"context"

	"steady-hand/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createAssessmentsTable = `
CREATE TABLE IF NOT EXISTS risk_assessments (
    id             BIGSERIAL   PRIMARY KEY,
    symbol         TEXT        NOT NULL,
    direction      TEXT        NOT NULL,
    confidence     NUMERIC     NOT NULL,
    approved       BOOLEAN     NOT NULL,
    risk_score     NUMERIC     NOT NULL,
    size_pct       NUMERIC     NOT NULL,
    warnings       TEXT[]      NOT NULL DEFAULT '{}',
    block_reasons  TEXT[]      NOT NULL DEFAULT '{}',
    assessed_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_assessments_assessed_at
    ON risk_assessments (assessed_at DESC);
`

// AssessmentRepository audits every risk decision, approved or not.
type AssessmentRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewAssessmentRepository(pool PgxPool, tracer trace.Tracer) *AssessmentRepository {
	return &AssessmentRepository{pool: pool, tracer: tracer}
}

func (r *AssessmentRepository) RunMigrations(ctx context.Context) error {
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "assessment-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createAssessmentsTable)
	return err
}

// SaveAssessments writes a cycle's worth of decisions in one batch.
func (r *AssessmentRepository) SaveAssessments(ctx context.Context, assessments []domain.RiskAssessment) error {
	if len(assessments) == 0 {
		return nil
	}
	if r.pool == nil {
		return ErrDatabaseUnavailable
	}

	_, span := r.tracer.Start(ctx, "assessment-repo.save-assessments")
	defer span.End()

	batch := &pgx.Batch{}
	for _, a := range assessments {
		warnings := a.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		blocks := a.BlockReasons
		if blocks == nil {
			blocks = []string{}
		}
		batch.Queue(
			`INSERT INTO risk_assessments (symbol, direction, confidence, approved, risk_score, size_pct, warnings, block_reasons, assessed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.Signal.Symbol, string(a.Signal.Direction), a.Signal.Confidence,
			a.Approved, a.RiskScore, a.RecommendedSizePct, warnings, blocks, a.AssessedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range assessments {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// RecentRejections lists the latest blocked decisions for operator review.
func (r *AssessmentRepository) RecentRejections(ctx context.Context, limit int) ([]domain.RiskAssessment, error) {
	if r.pool == nil {
		return nil, ErrDatabaseUnavailable
	}
	_, span := r.tracer.Start(ctx, "assessment-repo.recent-rejections")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, direction, confidence, approved, risk_score, size_pct, warnings, block_reasons, assessed_at
		 FROM risk_assessments
		 WHERE NOT approved
		 ORDER BY assessed_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		var a domain.RiskAssessment
		var direction string
		if err := rows.Scan(&a.Signal.Symbol, &direction, &a.Signal.Confidence, &a.Approved,
			&a.RiskScore, &a.RecommendedSizePct, &a.Warnings, &a.BlockReasons, &a.AssessedAt); err != nil {
			return nil, err
		}
		a.Signal.Direction = domain.Direction(direction)
		a.AssessedAt = a.AssessedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
