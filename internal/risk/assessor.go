package risk

import (
	"context"
	"fmt"
	"time"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Limits are the assessor's tolerances. Each one is an externally
// configurable named constant; none of them live in code.
type Limits struct {
	MinConfidence         float64
	MaxRiskScore          float64
	MaxPositionsTotal     int
	MaxPositionsPerStrat  int
	MaxPositionsPerSymbol int
	SoftLimitFraction     float64
	MaxDrawdownPct        float64
	MaxDailyLoss          float64
	MaxVaR95Fraction      float64
	SharpeFloor           float64
	ConcentrationLimit    float64
	HighVolatility        float64
	IlliquidityPenalty    float64
	MaxSingleAssetPct     float64
	MinViableSizePct      float64
}

// Additive risk contributions per soft check.
const (
	riskNearPositionLimit = 0.10
	riskNearStrategyLimit = 0.05
	riskNearDrawdown      = 0.15
	riskNearDailyLoss     = 0.15
	riskVaRBreach         = 0.10
	riskLowSharpe         = 0.05
	riskVolatilityCap     = 0.25
)

// VolatilityEstimator returns an annualizable per-symbol volatility figure.
// Estimation failures degrade to a warning, never a rejection.
type VolatilityEstimator interface {
	Estimate(ctx context.Context, symbol string) (float64, error)
}

// Assessor validates a UnifiedSignal against position, portfolio,
// correlation, volatility and liquidity limits and sizes the trade.
type Assessor struct {
	tracer trace.Tracer
	limits Limits
	vol    VolatilityEstimator
	state  *domain.PortfolioState
}

func NewAssessor(tracer trace.Tracer, limits Limits, vol VolatilityEstimator, state *domain.PortfolioState) *Assessor {
	return &Assessor{tracer: tracer, limits: limits, vol: vol, state: state}
}

// Assess runs the sequential check chain. Each check may add to the risk
// score; some block outright. The final decision rejects on any hard block
// or a cumulative score above the ceiling.
func (a *Assessor) Assess(ctx context.Context, sig domain.UnifiedSignal, positions []domain.Position, metrics domain.PortfolioMetrics) domain.RiskAssessment {
	ctx, span := a.tracer.Start(ctx, "risk.assess")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", sig.Symbol))

	out := domain.RiskAssessment{
		Signal:     sig,
		AssessedAt: time.Now().UTC(),
	}

	if a.state != nil && a.state.EmergencyMode() {
		out.BlockReasons = append(out.BlockReasons, "trading halted: emergency mode active")
		return out
	}
	if sig.Confidence < a.limits.MinConfidence {
		out.BlockReasons = append(out.BlockReasons,
			fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, a.limits.MinConfidence))
		return out
	}

	a.checkPositionCounts(sig, positions, &out)
	a.checkPortfolio(metrics, &out)
	a.checkConcentration(sig, positions, &out)
	a.checkVolatility(ctx, sig.Symbol, &out)
	a.checkLiquidity(sig.Symbol, &out)

	if out.RiskScore > a.limits.MaxRiskScore {
		out.BlockReasons = append(out.BlockReasons,
			fmt.Sprintf("risk score %.2f exceeds maximum %.2f", out.RiskScore, a.limits.MaxRiskScore))
	}
	if len(out.BlockReasons) > 0 {
		return out
	}

	out.Approved = true
	out.RecommendedSizePct = a.sizeFor(sig, out.RiskScore)
	out.StopLossPct, out.TakeProfitPct = a.exitsFor(sig, out.RiskScore)
	a.capToRiskBudget(positions, metrics, &out)
	return out
}

// capToRiskBudget keeps total allocated risk inside the portfolio ceiling:
// exposure already deployed plus the new trade never exceeds
// MaxPositionsTotal times the per-asset cap. The recommended size shrinks to
// fit; a remainder too small to trade rejects instead.
func (a *Assessor) capToRiskBudget(positions []domain.Position, m domain.PortfolioMetrics, out *domain.RiskAssessment) {
	if m.Equity <= 0 {
		return
	}
	budget := float64(a.limits.MaxPositionsTotal) * a.limits.MaxSingleAssetPct
	allocated := 0.0
	for _, p := range positions {
		allocated += p.Notional() / m.Equity * 100
	}
	remaining := budget - allocated
	if out.RecommendedSizePct <= remaining {
		return
	}
	if remaining < a.limits.MinViableSizePct {
		out.Approved = false
		out.RecommendedSizePct = 0
		out.BlockReasons = append(out.BlockReasons,
			fmt.Sprintf("allocated risk %.1f%% leaves no room in the %.1f%% budget", allocated, budget))
		return
	}
	out.Warnings = append(out.Warnings,
		fmt.Sprintf("size capped to remaining risk budget %.2f%%", remaining))
	out.RecommendedSizePct = remaining
}

func (a *Assessor) checkPositionCounts(sig domain.UnifiedSignal, positions []domain.Position, out *domain.RiskAssessment) {
	total := len(positions)
	var perStrategy, perSymbol int
	for _, p := range positions {
		if p.Strategy == sig.Strategy {
			perStrategy++
		}
		if p.Symbol == sig.Symbol {
			perSymbol++
		}
	}

	soft := a.limits.SoftLimitFraction

	if total >= a.limits.MaxPositionsTotal {
		out.BlockReasons = append(out.BlockReasons, "maximum total positions reached")
	} else if float64(total) >= soft*float64(a.limits.MaxPositionsTotal) {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("%d of %d total positions in use", total, a.limits.MaxPositionsTotal))
		out.RiskScore += riskNearPositionLimit
	}

	if perStrategy >= a.limits.MaxPositionsPerStrat {
		out.BlockReasons = append(out.BlockReasons,
			fmt.Sprintf("maximum positions for strategy %s reached", sig.Strategy))
	} else if float64(perStrategy) >= soft*float64(a.limits.MaxPositionsPerStrat) {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("strategy %s near its position limit", sig.Strategy))
		out.RiskScore += riskNearStrategyLimit
	}

	if perSymbol >= a.limits.MaxPositionsPerSymbol {
		out.BlockReasons = append(out.BlockReasons,
			fmt.Sprintf("position already open for %s", sig.Symbol))
	}
}

func (a *Assessor) checkPortfolio(m domain.PortfolioMetrics, out *domain.RiskAssessment) {
	if m.DrawdownPct > a.limits.MaxDrawdownPct {
		out.BlockReasons = append(out.BlockReasons,
			fmt.Sprintf("drawdown %.1f%% above ceiling %.1f%%", m.DrawdownPct, a.limits.MaxDrawdownPct))
	} else if m.DrawdownPct > a.limits.SoftLimitFraction*a.limits.MaxDrawdownPct {
		out.Warnings = append(out.Warnings, fmt.Sprintf("drawdown at %.1f%%", m.DrawdownPct))
		out.RiskScore += riskNearDrawdown
	}

	if -m.DailyPnL >= a.limits.MaxDailyLoss {
		out.BlockReasons = append(out.BlockReasons,
			fmt.Sprintf("daily loss $%.0f at limit $%.0f", -m.DailyPnL, a.limits.MaxDailyLoss))
	} else if -m.DailyPnL >= a.limits.SoftLimitFraction*a.limits.MaxDailyLoss {
		out.Warnings = append(out.Warnings, fmt.Sprintf("daily loss at $%.0f", -m.DailyPnL))
		out.RiskScore += riskNearDailyLoss
	}

	if m.Equity > 0 && m.VaR95 > a.limits.MaxVaR95Fraction*m.Equity {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("VaR95 $%.0f above %.0f%% of equity", m.VaR95, a.limits.MaxVaR95Fraction*100))
		out.RiskScore += riskVaRBreach
	}

	// Sharpe of exactly zero means no return history yet; don't penalize an
	// empty track record.
	if m.Sharpe != 0 && m.Sharpe < a.limits.SharpeFloor {
		out.Warnings = append(out.Warnings, fmt.Sprintf("Sharpe %.2f below floor %.2f", m.Sharpe, a.limits.SharpeFloor))
		out.RiskScore += riskLowSharpe
	}
}

func (a *Assessor) checkConcentration(sig domain.UnifiedSignal, positions []domain.Position, out *domain.RiskAssessment) {
	if len(positions) == 0 {
		return
	}
	base := domain.BaseAsset(sig.Symbol)
	shared := 0
	for _, p := range positions {
		if domain.BaseAsset(p.Symbol) == base {
			shared++
		}
	}
	share := float64(shared) / float64(len(positions))
	if share > a.limits.ConcentrationLimit {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("%.0f%% of open positions share base asset %s", share*100, base))
		out.RiskScore += share - a.limits.ConcentrationLimit
	}
}

func (a *Assessor) checkVolatility(ctx context.Context, symbol string, out *domain.RiskAssessment) {
	if a.vol == nil {
		return
	}
	vol, err := a.vol.Estimate(ctx, symbol)
	if err != nil {
		// Component-local failure: skip the check rather than reject.
		out.Warnings = append(out.Warnings, fmt.Sprintf("volatility unavailable for %s: %v", symbol, err))
		return
	}
	if vol > a.limits.HighVolatility {
		excess := (vol - a.limits.HighVolatility) / a.limits.HighVolatility
		add := excess * riskVolatilityCap
		if add > riskVolatilityCap {
			add = riskVolatilityCap
		}
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s volatility %.3f above threshold", symbol, vol))
		out.RiskScore += add
	}
}

func (a *Assessor) checkLiquidity(symbol string, out *domain.RiskAssessment) {
	if !domain.MajorPairs[symbol] {
		out.Warnings = append(out.Warnings, symbol+" is not a major pair")
		out.RiskScore += a.limits.IlliquidityPenalty
	}
}

// sizeFor scales the Kelly seed by confidence, discounts by the risk score
// and clamps to the viable band.
func (a *Assessor) sizeFor(sig domain.UnifiedSignal, score float64) float64 {
	base := sig.PositionSizePct * sig.Confidence
	size := base * (1 - score)
	switch {
	case score > 0.6:
		size *= 0.7
	case score > 0.4:
		size *= 0.85
	}
	if size < a.limits.MinViableSizePct {
		size = a.limits.MinViableSizePct
	}
	if size > a.limits.MaxSingleAssetPct {
		size = a.limits.MaxSingleAssetPct
	}
	return size
}

// exitsFor tightens the stop and shortens the target as risk accumulates.
func (a *Assessor) exitsFor(sig domain.UnifiedSignal, score float64) (stopPct, targetPct float64) {
	stopPct = sig.StopLossPct
	targetPct = sig.TakeProfitPct
	switch {
	case score > 0.5:
		stopPct *= 0.6
		targetPct *= 0.8
	case score > 0.3:
		stopPct *= 0.75
	}
	return stopPct, targetPct
}
