package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"steady-hand/internal/domain"

	"github.com/montanaflynn/stats"
	"go.opentelemetry.io/otel/trace"
)

// Thresholds are the monitor's alerting and emergency levels.
type Thresholds struct {
	MaxDailyLoss          float64
	MaxDrawdownPct        float64
	MaxVaR95Fraction      float64
	SharpeFloor           float64
	ConcentrationLimit    float64
	EmergencyMaxDailyLoss float64
	EmergencyMaxDrawdown  float64
	AlertCooldown         time.Duration
}

// BalanceSource is the slice of the exchange client the monitor needs.
type BalanceSource interface {
	Balance(ctx context.Context) (domain.Balance, error)
}

// PositionSource exposes the engine's open position ledger.
type PositionSource interface {
	Positions() []domain.Position
}

// Notifier pushes alerts to operators. Delivery failures are logged, never
// fatal; the alert is still recorded.
type Notifier interface {
	Notify(ctx context.Context, alert domain.RiskAlert) error
}

// AlertStore persists raised alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *domain.RiskAlert) error
}

const maxReturnSamples = 288

// Monitor recomputes portfolio metrics on a fixed cadence, raises deduplicated
// alerts when limits are crossed, and trips the emergency stop when losses
// reach catastrophic levels. It is the only component that sets the
// emergency flag automatically.
type Monitor struct {
	tracer    trace.Tracer
	balances  BalanceSource
	positions PositionSource
	state     *domain.PortfolioState
	notifier  Notifier
	store     AlertStore
	limits    Thresholds

	mu          sync.Mutex
	peakEquity  float64
	dayAnchor   float64
	dayStart    time.Time
	lastEquity  float64
	returns     []float64
	lastAlertAt map[string]time.Time

	now func() time.Time
}

func New(tracer trace.Tracer, balances BalanceSource, positions PositionSource, state *domain.PortfolioState, notifier Notifier, store AlertStore, limits Thresholds) *Monitor {
	return &Monitor{
		tracer:      tracer,
		balances:    balances,
		positions:   positions,
		state:       state,
		notifier:    notifier,
		store:       store,
		limits:      limits,
		lastAlertAt: make(map[string]time.Time),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Check runs one monitoring pass: metrics, limit checks, emergency levels.
func (m *Monitor) Check(ctx context.Context) (domain.PortfolioMetrics, error) {
	ctx, span := m.tracer.Start(ctx, "monitor.check")
	defer span.End()

	balance, err := m.balances.Balance(ctx)
	if err != nil {
		return domain.PortfolioMetrics{}, fmt.Errorf("fetching balance: %w", err)
	}

	metrics := m.compute(balance.Equity)
	if m.state != nil {
		m.state.SetMetrics(metrics)
	}

	m.checkLimits(ctx, metrics)
	m.checkEmergency(ctx, metrics)
	return metrics, nil
}

// compute updates the rolling equity statistics and builds the snapshot.
func (m *Monitor) compute(equity float64) domain.PortfolioMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	day := now.Truncate(24 * time.Hour)
	if m.dayStart.IsZero() || day.After(m.dayStart) {
		m.dayStart = day
		m.dayAnchor = equity
	}
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.lastEquity > 0 {
		m.returns = append(m.returns, equity/m.lastEquity-1)
		if len(m.returns) > maxReturnSamples {
			m.returns = m.returns[len(m.returns)-maxReturnSamples:]
		}
	}
	m.lastEquity = equity

	positions := m.positions.Positions()

	metrics := domain.PortfolioMetrics{
		Equity:        equity,
		DailyPnL:      equity - m.dayAnchor,
		OpenPositions: len(positions),
		ComputedAt:    now,
	}
	if m.peakEquity > 0 {
		metrics.DrawdownPct = (m.peakEquity - equity) / m.peakEquity * 100
	}
	metrics.CorrelationExposure = concentration(positions)

	if len(m.returns) >= 10 {
		metrics.VaR95 = valueAtRisk(m.returns, 5, equity)
		metrics.VaR99 = valueAtRisk(m.returns, 1, equity)
		metrics.Sharpe = ratio(m.returns, false)
		metrics.Sortino = ratio(m.returns, true)
	}
	return metrics
}

// valueAtRisk is the dollar loss at the given lower return percentile.
func valueAtRisk(returns []float64, percentile, equity float64) float64 {
	p, err := stats.Percentile(returns, percentile)
	if err != nil || p >= 0 {
		return 0
	}
	return -p * equity
}

// ratio is the mean return over volatility; Sortino uses downside deviation.
func ratio(returns []float64, downsideOnly bool) float64 {
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	series := returns
	if downsideOnly {
		series = nil
		for _, r := range returns {
			if r < 0 {
				series = append(series, r)
			}
		}
		if len(series) < 2 {
			return 0
		}
	}
	sd, err := stats.StandardDeviationSample(series)
	if err != nil || sd == 0 {
		return 0
	}
	return mean / sd
}

// concentration is the largest base-asset share of total notional exposure.
func concentration(positions []domain.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	var total float64
	byBase := make(map[string]float64)
	for _, p := range positions {
		n := p.Notional()
		if n < 0 {
			n = -n
		}
		total += n
		byBase[domain.BaseAsset(p.Symbol)] += n
	}
	if total == 0 {
		return 0
	}
	var worst float64
	for _, n := range byBase {
		if share := n / total; share > worst {
			worst = share
		}
	}
	return worst
}

func (m *Monitor) checkLimits(ctx context.Context, metrics domain.PortfolioMetrics) {
	if -metrics.DailyPnL >= m.limits.MaxDailyLoss {
		m.raise(ctx, domain.RiskAlert{
			Type:     domain.AlertDailyLoss,
			Severity: domain.SeverityHigh,
			Message:  fmt.Sprintf("daily loss $%.0f breached limit $%.0f", -metrics.DailyPnL, m.limits.MaxDailyLoss),
			Action:   "new orders blocked until the next UTC day",
		})
	}
	if metrics.DrawdownPct >= m.limits.MaxDrawdownPct {
		m.raise(ctx, domain.RiskAlert{
			Type:     domain.AlertDrawdown,
			Severity: domain.SeverityHigh,
			Message:  fmt.Sprintf("drawdown %.1f%% breached ceiling %.1f%%", metrics.DrawdownPct, m.limits.MaxDrawdownPct),
			Action:   "new orders blocked until recovery",
		})
	}
	if metrics.Equity > 0 && metrics.VaR95 > m.limits.MaxVaR95Fraction*metrics.Equity {
		m.raise(ctx, domain.RiskAlert{
			Type:     domain.AlertVaRBreach,
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("VaR95 $%.0f above %.0f%% of equity", metrics.VaR95, m.limits.MaxVaR95Fraction*100),
		})
	}
	if metrics.Sharpe != 0 && metrics.Sharpe < m.limits.SharpeFloor {
		m.raise(ctx, domain.RiskAlert{
			Type:     domain.AlertSharpeFloor,
			Severity: domain.SeverityLow,
			Message:  fmt.Sprintf("Sharpe %.2f below floor %.2f", metrics.Sharpe, m.limits.SharpeFloor),
		})
	}
	if metrics.CorrelationExposure > m.limits.ConcentrationLimit {
		m.raise(ctx, domain.RiskAlert{
			Type:     domain.AlertConcentration,
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("%.0f%% of exposure in one base asset", metrics.CorrelationExposure*100),
		})
	}
}

func (m *Monitor) checkEmergency(ctx context.Context, metrics domain.PortfolioMetrics) {
	var reason string
	switch {
	case -metrics.DailyPnL >= m.limits.EmergencyMaxDailyLoss:
		reason = fmt.Sprintf("daily loss $%.0f reached emergency level $%.0f", -metrics.DailyPnL, m.limits.EmergencyMaxDailyLoss)
	case metrics.DrawdownPct >= m.limits.EmergencyMaxDrawdown:
		reason = fmt.Sprintf("drawdown %.1f%% reached emergency level %.1f%%", metrics.DrawdownPct, m.limits.EmergencyMaxDrawdown)
	default:
		return
	}

	if m.state == nil || !m.state.TriggerEmergency(reason) {
		return
	}
	log.Printf("EMERGENCY STOP: %s", reason)
	m.raise(ctx, domain.RiskAlert{
		Type:     domain.AlertEmergencyStop,
		Severity: domain.SeverityCritical,
		Message:  reason,
		Action:   "all trading halted; manual reset required",
	})
}

// raise records and delivers an alert unless an identical one fired within
// the cooldown window. Emergency stops are never deduplicated.
func (m *Monitor) raise(ctx context.Context, alert domain.RiskAlert) {
	key := string(alert.Type)
	if len(alert.Symbols) > 0 {
		key += ":" + alert.Symbols[0]
	}

	m.mu.Lock()
	if alert.Type != domain.AlertEmergencyStop {
		if last, ok := m.lastAlertAt[key]; ok && m.now().Sub(last) < m.limits.AlertCooldown {
			m.mu.Unlock()
			return
		}
	}
	m.lastAlertAt[key] = m.now()
	m.mu.Unlock()

	alert.RaisedAt = m.now()
	if m.store != nil {
		if err := m.store.SaveAlert(ctx, &alert); err != nil {
			log.Printf("Warning: persisting %s alert failed: %v", alert.Type, err)
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, alert); err != nil {
			log.Printf("Warning: delivering %s alert failed: %v", alert.Type, err)
		}
	}
}
