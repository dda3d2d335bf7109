package job

import (
	"context"
	"log"
	"time"

	"steady-hand/internal/service"

	"go.opentelemetry.io/otel/trace"
)

// CycleRunner is the trading pipeline entry point.
type CycleRunner interface {
	RunCycle(ctx context.Context) (service.CycleResult, error)
}

// TradingJob drives the trading pipeline on a fixed interval.
type TradingJob struct {
	tracer   trace.Tracer
	runner   CycleRunner
	interval time.Duration
}

func NewTradingJob(tracer trace.Tracer, runner CycleRunner, intervalSecs int) *TradingJob {
	return &TradingJob{
		tracer:   tracer,
		runner:   runner,
		interval: time.Duration(intervalSecs) * time.Second,
	}
}

// Start runs one cycle immediately, then ticks. Blocks until ctx is cancelled.
func (j *TradingJob) Start(ctx context.Context) {
	log.Println("Trading job starting...")

	j.runOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Trading job stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *TradingJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "trading-job.run-once")
	defer span.End()

	if _, err := j.runner.RunCycle(ctx); err != nil {
		log.Printf("trading cycle error: %v", err)
	}
}
