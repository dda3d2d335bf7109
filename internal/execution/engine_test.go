package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"steady-hand/internal/domain"
	"steady-hand/internal/exchange"

	"go.opentelemetry.io/otel/trace"
)

type memAudit struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (m *memAudit) AppendEvent(ctx context.Context, e domain.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) RecentEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *memAudit) transitions(orderID string) []domain.OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderState
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e.ToState)
		}
	}
	return out
}

type memArchive struct {
	saved []domain.Position
}

func (m *memArchive) SavePosition(ctx context.Context, p domain.Position) error {
	m.saved = append(m.saved, p)
	return nil
}

func approvedAssessment(symbol string, side domain.Direction, sizePct float64) domain.RiskAssessment {
	return domain.RiskAssessment{
		Signal: domain.UnifiedSignal{
			Symbol:    symbol,
			Direction: side,
			Strategy:  "momentum",
			CreatedAt: time.Now().UTC(),
		},
		Approved:           true,
		RecommendedSizePct: sizePct,
		StopLossPct:        2,
		TakeProfitPct:      5,
	}
}

func newTestEngine(sim *exchange.SimClient, state *domain.PortfolioState, cooldown time.Duration) (*Engine, *memAudit, *memArchive) {
	audit := &memAudit{}
	archive := &memArchive{}
	eng := NewEngine(trace.NewNoopTracerProvider().Tracer("test"), sim, state, audit, archive, cooldown, 25)
	return eng, audit, archive
}

func TestExecuteFillsAndTracksPosition(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	eng, audit, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.OrderFilled {
		t.Fatalf("expected a filled order, got %s (%s)", report.Status, report.Reason)
	}

	positions := eng.Positions()
	if len(positions) != 1 {
		t.Fatalf("expected one position, got %d", len(positions))
	}
	// 2% of $10k at $100 is 2 units.
	if math.Abs(positions[0].Size-2) > 1e-9 {
		t.Fatalf("expected size 2, got %g", positions[0].Size)
	}

	want := []domain.OrderState{domain.OrderCreated, domain.OrderSubmitted, domain.OrderFilled}
	got := audit.transitions(report.OrderID)
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, got)
		}
	}
}

func TestExecuteRoundTripRealizesPnLAndArchives(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	eng, _, archive := newTestEngine(sim, domain.NewPortfolioState(), 0)

	if _, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	// Price rises; sell sized to flatten the 2-unit position exactly.
	sim.SetMarkPrice("BTCUSDT", 110)
	sellReport, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionSell, 2.2))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if math.Abs(sellReport.FillPrice-110) > 1e-9 {
		t.Fatalf("expected fill price 110 on the sell report, got %g", sellReport.FillPrice)
	}
	if math.Abs(sellReport.RealizedPnL-20) > 1e-9 {
		t.Fatalf("expected realized PnL 20 on the sell report, got %g", sellReport.RealizedPnL)
	}
	if len(eng.Positions()) != 0 {
		t.Fatalf("expected a flat book, got %+v", eng.Positions())
	}
	if len(archive.saved) != 1 {
		t.Fatalf("expected one archived position, got %d", len(archive.saved))
	}
	if math.Abs(archive.saved[0].RealizedPnL-20) > 1e-9 {
		t.Fatalf("expected realized PnL 20, got %g", archive.saved[0].RealizedPnL)
	}
}

func TestExecuteDuplicateSignalIsIdempotent(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	eng, _, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	ra := approvedAssessment("BTCUSDT", domain.DirectionBuy, 2)
	first, err := eng.Execute(context.Background(), ra)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := eng.Execute(context.Background(), ra)
	if err != nil {
		t.Fatalf("duplicate submit failed: %v", err)
	}

	if first.OrderID != second.OrderID {
		t.Fatalf("duplicate must map to the same order, got %s vs %s", first.OrderID, second.OrderID)
	}
	if len(eng.Positions()) != 1 || math.Abs(eng.Positions()[0].Size-2) > 1e-9 {
		t.Fatalf("duplicate must not double the position: %+v", eng.Positions())
	}
}

func TestExecuteCooldownBlocksSameSymbol(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	// Zero fills keep the book empty so only the cooldown gates the repeats.
	sim.PartialFillNext(0)
	eng, _, _ := newTestEngine(sim, domain.NewPortfolioState(), 5*time.Minute)

	if _, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 1)); err != nil {
		t.Fatalf("first order failed: %v", err)
	}

	_, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 1))
	if !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected cooldown error, got %v", err)
	}

	// Past the window the symbol trades again.
	eng.now = func() time.Time { return time.Now().UTC().Add(6 * time.Minute) }
	if _, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 1)); err != nil {
		t.Fatalf("order after cooldown failed: %v", err)
	}
}

func TestExecuteBlockedInEmergencyButCancelAllowed(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	sim.PartialFillNext(0.5)
	state := domain.NewPortfolioState()
	eng, _, _ := newTestEngine(sim, state, 0)

	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err != nil {
		t.Fatalf("setup order failed: %v", err)
	}
	if report.Status != domain.OrderPartiallyFilled {
		t.Fatalf("expected a partial fill, got %s", report.Status)
	}

	state.TriggerEmergency("drawdown breached")

	_, err = eng.Execute(context.Background(), approvedAssessment("ETHUSDT", domain.DirectionBuy, 1))
	if !errors.Is(err, ErrTradingHalted) {
		t.Fatalf("expected halt error, got %v", err)
	}

	if err := eng.Cancel(context.Background(), report.OrderID); err != nil {
		t.Fatalf("cancel must work in emergency mode: %v", err)
	}
	order, _ := eng.Order(report.OrderID)
	if order.State != domain.OrderCancelled {
		t.Fatalf("expected cancelled, got %s", order.State)
	}
}

func TestExecuteExchangeErrorRejectsWithoutRetry(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	sim.FailNextCreate(fmt.Errorf("%w: connection reset", exchange.ErrTransient))
	eng, audit, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err != nil {
		t.Fatalf("transient create failure must resolve, not error: %v", err)
	}
	if report.Status != domain.OrderRejected {
		t.Fatalf("expected rejected, got %s", report.Status)
	}
	if len(eng.Positions()) != 0 {
		t.Fatal("rejected order must not touch the book")
	}

	got := audit.transitions(report.OrderID)
	if got[len(got)-1] != domain.OrderRejected {
		t.Fatalf("expected final audit state rejected, got %v", got)
	}
}

func TestExecuteAuthFailureSurfacesError(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	sim.FailNextCreate(&exchange.APIError{Code: 10004, Msg: "invalid sign"})
	eng, _, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	_, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err == nil || !strings.Contains(err.Error(), "authentication") {
		t.Fatalf("expected an authentication error, got %v", err)
	}
}

func TestExecuteInsufficientBalanceRejects(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	sim.SetBalance(domain.Balance{Equity: 10000, Available: 50})
	eng, _, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.OrderRejected {
		t.Fatalf("expected rejected, got %s", report.Status)
	}
	if !strings.Contains(report.Reason, "insufficient balance") {
		t.Fatalf("unexpected reason: %q", report.Reason)
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]domain.OrderState]bool{
		{domain.OrderCreated, domain.OrderSubmitted}:                true,
		{domain.OrderCreated, domain.OrderRejected}:                 true,
		{domain.OrderSubmitted, domain.OrderPartiallyFilled}:        true,
		{domain.OrderSubmitted, domain.OrderFilled}:                 true,
		{domain.OrderSubmitted, domain.OrderRejected}:               true,
		{domain.OrderSubmitted, domain.OrderCancelled}:              true,
		{domain.OrderPartiallyFilled, domain.OrderFilled}:           true,
		{domain.OrderPartiallyFilled, domain.OrderCancelled}:        true,
	}
	states := []domain.OrderState{
		domain.OrderCreated, domain.OrderSubmitted, domain.OrderPartiallyFilled,
		domain.OrderFilled, domain.OrderRejected, domain.OrderCancelled,
	}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]domain.OrderState{from, to}]
			if got := canTransition(from, to); got != want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestReconcileResolvesStaleOrders(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	sim.PartialFillNext(0.5)
	eng, _, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err != nil {
		t.Fatalf("setup order failed: %v", err)
	}

	// Exchange closes the remainder out of band.
	if err := sim.CancelOrder(context.Background(), "BTCUSDT", report.OrderID); err != nil {
		t.Fatalf("sim cancel failed: %v", err)
	}

	if err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	order, _ := eng.Order(report.OrderID)
	if !order.State.Terminal() {
		t.Fatalf("expected a resolved order after reconcile, got %s", order.State)
	}
}

func TestReconcileReplaysAuditAfterRestart(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	sim.PartialFillNext(0.5)
	eng, audit, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err != nil {
		t.Fatalf("setup order failed: %v", err)
	}
	if report.Status != domain.OrderPartiallyFilled {
		t.Fatalf("expected a partial fill, got %s", report.Status)
	}

	// Exchange closes the remainder while the process is down.
	if err := sim.CancelOrder(context.Background(), "BTCUSDT", report.OrderID); err != nil {
		t.Fatalf("sim cancel failed: %v", err)
	}

	// A fresh engine sharing the audit log stands in for a restart.
	restarted := NewEngine(trace.NewNoopTracerProvider().Tracer("test"), sim,
		domain.NewPortfolioState(), audit, &memArchive{}, 0, 25)
	if err := restarted.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	order, err := restarted.Order(report.OrderID)
	if err != nil {
		t.Fatalf("replayed order not tracked: %v", err)
	}
	if order.State != domain.OrderFilled {
		t.Fatalf("expected filled (fills were recorded before the restart), got %s", order.State)
	}
}

func TestExecuteRejectsWhenSameSidePositionAlreadyOpen(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	eng, _, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	if _, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2)); err != nil {
		t.Fatalf("first order failed: %v", err)
	}

	// A second approval for the same symbol arrives before the book the
	// assessor saw catches up.
	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.OrderRejected {
		t.Fatalf("expected rejected, got %s", report.Status)
	}
	if report.Reason != "position already open for BTCUSDT" {
		t.Fatalf("unexpected reason: %q", report.Reason)
	}
	if len(eng.Positions()) != 1 || math.Abs(eng.Positions()[0].Size-2) > 1e-9 {
		t.Fatalf("rejected order must not grow the position: %+v", eng.Positions())
	}
}

func TestExecuteRejectsAtPositionCeiling(t *testing.T) {
	sim := exchange.NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 100)
	sim.SetMarkPrice("ETHUSDT", 10)
	eng := NewEngine(trace.NewNoopTracerProvider().Tracer("test"), sim,
		domain.NewPortfolioState(), &memAudit{}, &memArchive{}, 0, 1)

	if _, err := eng.Execute(context.Background(), approvedAssessment("ETHUSDT", domain.DirectionBuy, 1)); err != nil {
		t.Fatalf("first order failed: %v", err)
	}

	report, err := eng.Execute(context.Background(), approvedAssessment("BTCUSDT", domain.DirectionBuy, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.OrderRejected {
		t.Fatalf("expected rejected, got %s", report.Status)
	}
	if report.Reason != "maximum total positions reached" {
		t.Fatalf("unexpected reason: %q", report.Reason)
	}
}

// Order and Positions reads must stay consistent while reconciliation is
// resolving the book.
func TestOrderReadsAreConsistentDuringReconcile(t *testing.T) {
	sim := exchange.NewSimClient(1000000)
	sim.PartialFillNext(0)
	eng, _, _ := newTestEngine(sim, domain.NewPortfolioState(), 0)

	type placed struct{ symbol, id string }
	var orders []placed
	for i := 0; i < 20; i++ {
		symbol := fmt.Sprintf("SYM%02dUSDT", i)
		sim.SetMarkPrice(symbol, 100)
		report, err := eng.Execute(context.Background(), approvedAssessment(symbol, domain.DirectionBuy, 1))
		if err != nil {
			t.Fatalf("placing %s failed: %v", symbol, err)
		}
		orders = append(orders, placed{symbol: symbol, id: report.OrderID})
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, o := range orders {
					if _, err := eng.Order(o.id); err != nil {
						t.Errorf("order %s lost: %v", o.id, err)
						return
					}
				}
				eng.Positions()
			}
		}()
	}

	// The exchange closes everything out of band; reconciliation resolves
	// each tracked order while the readers are running.
	for _, o := range orders {
		if err := sim.CancelOrder(context.Background(), o.symbol, o.id); err != nil {
			t.Fatalf("sim cancel for %s failed: %v", o.symbol, err)
		}
	}
	if err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	close(stop)
	wg.Wait()

	for _, o := range orders {
		order, err := eng.Order(o.id)
		if err != nil {
			t.Fatalf("order %s lost: %v", o.id, err)
		}
		if !order.State.Terminal() {
			t.Fatalf("expected %s resolved, got %s", o.id, order.State)
		}
	}
}
