package job

import (
	"context"
	"log"
	"time"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// PortfolioChecker is the monitor's periodic entry point.
type PortfolioChecker interface {
	Check(ctx context.Context) (domain.PortfolioMetrics, error)
}

// MonitorJob drives the portfolio monitor. It starts staggered behind the
// trading job so the first metrics pass sees the first cycle's positions.
type MonitorJob struct {
	tracer   trace.Tracer
	checker  PortfolioChecker
	interval time.Duration
	stagger  time.Duration
}

func NewMonitorJob(tracer trace.Tracer, checker PortfolioChecker, intervalSecs int) *MonitorJob {
	return &MonitorJob{
		tracer:   tracer,
		checker:  checker,
		interval: time.Duration(intervalSecs) * time.Second,
		stagger:  5 * time.Second,
	}
}

// Start blocks until ctx is cancelled.
func (j *MonitorJob) Start(ctx context.Context) {
	log.Println("Portfolio monitor starting...")

	select {
	case <-ctx.Done():
		return
	case <-time.After(j.stagger):
	}

	j.runOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Portfolio monitor stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *MonitorJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "monitor-job.run-once")
	defer span.End()

	if _, err := j.checker.Check(ctx); err != nil {
		log.Printf("portfolio check error: %v", err)
	}
}
