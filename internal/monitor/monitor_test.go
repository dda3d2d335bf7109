package monitor

import (
	"context"
	"math"
	"testing"
	"time"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type fakeBalances struct {
	equity float64
}

func (f *fakeBalances) Balance(ctx context.Context) (domain.Balance, error) {
	return domain.Balance{Equity: f.equity, Available: f.equity}, nil
}

type fakePositions struct {
	positions []domain.Position
}

func (f *fakePositions) Positions() []domain.Position { return f.positions }

type fakeNotifier struct {
	alerts []domain.RiskAlert
}

func (f *fakeNotifier) Notify(ctx context.Context, a domain.RiskAlert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeNotifier) ofType(t domain.AlertType) []domain.RiskAlert {
	var out []domain.RiskAlert
	for _, a := range f.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func testThresholds() Thresholds {
	return Thresholds{
		MaxDailyLoss:          500,
		MaxDrawdownPct:        15,
		MaxVaR95Fraction:      0.05,
		SharpeFloor:           0.5,
		ConcentrationLimit:    0.5,
		EmergencyMaxDailyLoss: 1000,
		EmergencyMaxDrawdown:  20,
		AlertCooldown:         15 * time.Minute,
	}
}

func newTestMonitor(balances *fakeBalances, positions *fakePositions, state *domain.PortfolioState, notifier *fakeNotifier) *Monitor {
	return New(trace.NewNoopTracerProvider().Tracer("test"),
		balances, positions, state, notifier, nil, testThresholds())
}

func TestCheckRaisesDailyLossAlert(t *testing.T) {
	balances := &fakeBalances{equity: 10000}
	state := domain.NewPortfolioState()
	notifier := &fakeNotifier{}
	m := newTestMonitor(balances, &fakePositions{}, state, notifier)

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("baseline check failed: %v", err)
	}

	balances.equity = 9400
	metrics, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if metrics.DailyPnL != -600 {
		t.Fatalf("expected daily PnL -600, got %g", metrics.DailyPnL)
	}
	if got := notifier.ofType(domain.AlertDailyLoss); len(got) != 1 || got[0].Severity != domain.SeverityHigh {
		t.Fatalf("expected one high daily-loss alert, got %v", got)
	}
	if state.EmergencyMode() {
		t.Fatal("a $600 loss must not trip the emergency stop")
	}
}

func TestCheckTripsEmergencyStop(t *testing.T) {
	balances := &fakeBalances{equity: 10000}
	state := domain.NewPortfolioState()
	notifier := &fakeNotifier{}
	m := newTestMonitor(balances, &fakePositions{}, state, notifier)

	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("baseline check failed: %v", err)
	}

	balances.equity = 9000
	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	if !state.EmergencyMode() {
		t.Fatal("a $1000 daily loss must trip the emergency stop")
	}
	got := notifier.ofType(domain.AlertEmergencyStop)
	if len(got) != 1 || got[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected one critical emergency alert, got %v", got)
	}
}

func TestCheckEmergencyTriggersOnce(t *testing.T) {
	balances := &fakeBalances{equity: 10000}
	state := domain.NewPortfolioState()
	notifier := &fakeNotifier{}
	m := newTestMonitor(balances, &fakePositions{}, state, notifier)

	m.Check(context.Background())
	balances.equity = 8900
	m.Check(context.Background())
	balances.equity = 8800
	m.Check(context.Background())

	if got := notifier.ofType(domain.AlertEmergencyStop); len(got) != 1 {
		t.Fatalf("emergency must fire once per trigger, got %d alerts", len(got))
	}
}

func TestCheckDeduplicatesAlerts(t *testing.T) {
	balances := &fakeBalances{equity: 10000}
	notifier := &fakeNotifier{}
	m := newTestMonitor(balances, &fakePositions{}, domain.NewPortfolioState(), notifier)
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	m.Check(context.Background())
	balances.equity = 9400
	m.Check(context.Background())
	m.Check(context.Background())
	m.Check(context.Background())

	if got := notifier.ofType(domain.AlertDailyLoss); len(got) != 1 {
		t.Fatalf("expected one deduplicated alert, got %d", len(got))
	}

	// Past the cooldown the same condition alerts again.
	m.now = func() time.Time { return base.Add(16 * time.Minute) }
	m.Check(context.Background())
	if got := notifier.ofType(domain.AlertDailyLoss); len(got) != 2 {
		t.Fatalf("expected a fresh alert after cooldown, got %d", len(got))
	}
}

func TestCheckConcentrationAlert(t *testing.T) {
	balances := &fakeBalances{equity: 10000}
	notifier := &fakeNotifier{}
	positions := &fakePositions{positions: []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.DirectionBuy, Size: 3, MarkPrice: 100},
		{Symbol: "ETHUSDT", Side: domain.DirectionBuy, Size: 1, MarkPrice: 100},
	}}
	m := newTestMonitor(balances, positions, domain.NewPortfolioState(), notifier)

	metrics, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if math.Abs(metrics.CorrelationExposure-0.75) > 1e-9 {
		t.Fatalf("expected 0.75 concentration, got %g", metrics.CorrelationExposure)
	}
	if got := notifier.ofType(domain.AlertConcentration); len(got) != 1 {
		t.Fatalf("expected a concentration alert, got %d", len(got))
	}
}

func TestValueAtRisk(t *testing.T) {
	returns := []float64{-0.05, -0.02, -0.01, 0, 0.01, 0.01, 0.02, 0.02, 0.03, 0.04}
	if got := valueAtRisk(returns, 5, 10000); got <= 0 {
		t.Fatalf("expected a positive VaR, got %g", got)
	}
	allPositive := []float64{0.01, 0.02, 0.03, 0.01, 0.02, 0.03, 0.01, 0.02, 0.03, 0.01}
	if got := valueAtRisk(allPositive, 5, 10000); got != 0 {
		t.Fatalf("no losses means zero VaR, got %g", got)
	}
}

func TestRatioHelpers(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, -0.02, 0.01, 0.02, -0.01, 0.01}
	sharpe := ratio(returns, false)
	sortino := ratio(returns, true)
	if sharpe <= 0 {
		t.Fatalf("positive-mean series must have positive Sharpe, got %g", sharpe)
	}
	if sortino <= sharpe {
		t.Fatalf("Sortino should exceed Sharpe when upside dominates: %g vs %g", sortino, sharpe)
	}
}

func TestConcentrationEmptyBook(t *testing.T) {
	if got := concentration(nil); got != 0 {
		t.Fatalf("empty book must report zero concentration, got %g", got)
	}
}
