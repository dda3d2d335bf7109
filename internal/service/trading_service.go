package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"steady-hand/internal/domain"
	"steady-hand/internal/execution"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// SignalSource is one upstream signal producer (technical scanner, sentiment
// feed, ML model). Sources fail independently; a dead source never kills a
// cycle.
type SignalSource interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.SourceSignal, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, signals []domain.SourceSignal) []domain.UnifiedSignal
}

type RiskAssessor interface {
	Assess(ctx context.Context, sig domain.UnifiedSignal, positions []domain.Position, metrics domain.PortfolioMetrics) domain.RiskAssessment
}

type Executor interface {
	Execute(ctx context.Context, ra domain.RiskAssessment) (domain.ExecutionReport, error)
	Positions() []domain.Position
	RefreshMarks(ctx context.Context)
}

type AssessmentAudit interface {
	SaveAssessments(ctx context.Context, assessments []domain.RiskAssessment) error
}

type MarketData interface {
	Balance(ctx context.Context) (domain.Balance, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// RegimeObserver accumulates mark prices for market regime classification.
type RegimeObserver interface {
	Observe(symbol string, price float64)
}

type Notifier interface {
	Notify(ctx context.Context, alert domain.RiskAlert) error
}

// CycleResult summarizes one pipeline run for logs and the API.
type CycleResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Halted    bool          `json:"halted"`
	Collected int           `json:"collected"`
	Unified   int           `json:"unified"`
	Approved  int           `json:"approved"`
	Rejected  int           `json:"rejected"`
	Executed  int           `json:"executed"`
	Reports   []domain.ExecutionReport `json:"reports,omitempty"`
}

// TradingService runs the signal-to-order pipeline: collect from all sources
// in parallel, aggregate, then assess and execute sequentially so that every
// decision sees the positions opened earlier in the same cycle.
type TradingService struct {
	tracer   trace.Tracer
	sources  []SignalSource
	agg      Aggregator
	risk     RiskAssessor
	exec     Executor
	audit    AssessmentAudit
	market   MarketData
	regime   RegimeObserver
	state    *domain.PortfolioState
	notifier Notifier
	workers  int

	mu        sync.Mutex
	lastCycle CycleResult
}

func NewTradingService(
	tracer trace.Tracer,
	sources []SignalSource,
	agg Aggregator,
	risk RiskAssessor,
	exec Executor,
	audit AssessmentAudit,
	market MarketData,
	regime RegimeObserver,
	state *domain.PortfolioState,
	notifier Notifier,
	workers int,
) *TradingService {
	if workers < 1 {
		workers = 1
	}
	return &TradingService{
		tracer:   tracer,
		sources:  sources,
		agg:      agg,
		risk:     risk,
		exec:     exec,
		audit:    audit,
		market:   market,
		regime:   regime,
		state:    state,
		notifier: notifier,
		workers:  workers,
	}
}

// RunCycle executes one full pipeline pass.
func (s *TradingService) RunCycle(ctx context.Context) (CycleResult, error) {
	ctx, span := s.tracer.Start(ctx, "trading-service.run-cycle")
	defer span.End()

	result := CycleResult{StartedAt: time.Now().UTC()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		s.mu.Lock()
		s.lastCycle = result
		s.mu.Unlock()
	}()

	if s.state != nil && s.state.EmergencyMode() {
		result.Halted = true
		log.Printf("Cycle skipped: emergency mode active")
		return result, nil
	}

	// A dead exchange connection fails the whole cycle up front rather than
	// after signals have been collected and ranked.
	if s.market != nil {
		if _, err := s.market.Balance(ctx); err != nil {
			s.notify(ctx, domain.RiskAlert{
				Type:     domain.AlertCycleFailure,
				Severity: domain.SeverityMedium,
				Message:  fmt.Sprintf("balance fetch failed, cycle aborted: %v", err),
			})
			return result, fmt.Errorf("fetching balance: %w", err)
		}
	}

	signals, failures := s.collect(ctx)
	result.Collected = len(signals)
	if len(s.sources) > 0 && failures == len(s.sources) {
		s.notify(ctx, domain.RiskAlert{
			Type:     domain.AlertCycleFailure,
			Severity: domain.SeverityMedium,
			Message:  "all signal sources failed; cycle produced no candidates",
		})
		return result, errors.New("all signal sources failed")
	}
	if len(signals) == 0 {
		log.Printf("Cycle complete: no signals collected")
		return result, nil
	}

	s.observeMarks(ctx, signals)

	unified := s.agg.Aggregate(ctx, signals)
	result.Unified = len(unified)

	s.exec.RefreshMarks(ctx)

	var assessments []domain.RiskAssessment
	for _, sig := range unified {
		// The emergency stop can trip mid-cycle; stop submitting immediately.
		if s.state != nil && s.state.EmergencyMode() {
			result.Halted = true
			break
		}

		var metrics domain.PortfolioMetrics
		if s.state != nil {
			metrics = s.state.Metrics()
		}
		ra := s.risk.Assess(ctx, sig, s.exec.Positions(), metrics)
		assessments = append(assessments, ra)

		if !ra.Approved {
			result.Rejected++
			log.Printf("Rejected %s %s: %v", sig.Symbol, sig.Direction, ra.BlockReasons)
			continue
		}
		result.Approved++

		report, err := s.exec.Execute(ctx, ra)
		switch {
		case errors.Is(err, execution.ErrTradingHalted):
			result.Halted = true
		case errors.Is(err, execution.ErrCooldown):
			log.Printf("Skipped %s: %v", sig.Symbol, err)
		case err != nil:
			log.Printf("Execution failed for %s: %v", sig.Symbol, err)
		default:
			result.Reports = append(result.Reports, report)
			if report.Status == domain.OrderFilled || report.Status == domain.OrderPartiallyFilled {
				result.Executed++
			}
		}
		if result.Halted {
			break
		}
	}

	if s.audit != nil && len(assessments) > 0 {
		if err := s.audit.SaveAssessments(ctx, assessments); err != nil {
			log.Printf("Warning: persisting assessments failed: %v", err)
		}
	}

	log.Printf("Cycle complete: %d collected, %d unified, %d approved, %d executed",
		result.Collected, result.Unified, result.Approved, result.Executed)
	return result, nil
}

// collect fans out to all sources with a bounded worker pool.
func (s *TradingService) collect(ctx context.Context) ([]domain.SourceSignal, int) {
	ctx, span := s.tracer.Start(ctx, "trading-service.collect")
	defer span.End()

	var (
		mu       sync.Mutex
		signals  []domain.SourceSignal
		failures int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, src := range s.sources {
		src := src
		g.Go(func() error {
			got, err := src.Fetch(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				log.Printf("Warning: signal source %s failed: %v", src.Name(), err)
				return nil
			}
			signals = append(signals, got...)
			return nil
		})
	}
	_ = g.Wait()
	return signals, failures
}

// observeMarks feeds current marks into the regime classifier for every
// distinct symbol in this cycle's candidates.
func (s *TradingService) observeMarks(ctx context.Context, signals []domain.SourceSignal) {
	if s.market == nil || s.regime == nil {
		return
	}
	seen := make(map[string]bool)
	for _, sig := range signals {
		if seen[sig.Symbol] {
			continue
		}
		seen[sig.Symbol] = true
		mark, err := s.market.MarkPrice(ctx, sig.Symbol)
		if err != nil {
			log.Printf("Warning: mark price for %s unavailable: %v", sig.Symbol, err)
			continue
		}
		s.regime.Observe(sig.Symbol, mark)
	}
}

func (s *TradingService) notify(ctx context.Context, alert domain.RiskAlert) {
	if s.notifier == nil {
		return
	}
	alert.RaisedAt = time.Now().UTC()
	if err := s.notifier.Notify(ctx, alert); err != nil {
		log.Printf("Warning: delivering %s alert failed: %v", alert.Type, err)
	}
}

// LastCycle returns the most recent cycle summary.
func (s *TradingService) LastCycle() CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}
