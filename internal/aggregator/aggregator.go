package aggregator

import (
	"context"
	"log"
	"sort"
	"time"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// Config carries the consolidation knobs. The numeric values mirror the
// tolerances the strategy was tuned with and are set from the environment.
type Config struct {
	MaxSignals         int
	ConsensusBonus     float64
	ConsensusBonusCap  float64
	KellyFraction      float64
	KellyMinPct        float64
	KellyMaxPct        float64
	DefaultWinRate     float64
	DefaultAvgReturn   float64
	DefaultStopLossPct float64
	DefaultRewardRatio float64
}

// Aggregator merges per-source candidate signals into one ranked
// UnifiedSignal per instrument.
type Aggregator struct {
	tracer trace.Tracer
	cfg    Config
	regime *RegimeClassifier
}

func New(tracer trace.Tracer, cfg Config, regime *RegimeClassifier) *Aggregator {
	if cfg.MaxSignals <= 0 {
		cfg.MaxSignals = 8
	}
	return &Aggregator{tracer: tracer, cfg: cfg, regime: regime}
}

// Aggregate groups candidates by symbol, resolves direction by majority vote
// and returns the ranked, de-duplicated signal list capped at MaxSignals.
// Malformed candidates are dropped and logged, never propagated.
func (a *Aggregator) Aggregate(ctx context.Context, candidates []domain.SourceSignal) []domain.UnifiedSignal {
	_, span := a.tracer.Start(ctx, "aggregator.aggregate")
	defer span.End()

	bySymbol := make(map[string][]domain.SourceSignal)
	for _, c := range candidates {
		if err := validate(c); err != nil {
			log.Printf("dropping malformed signal from %s: %v", c.Source, err)
			continue
		}
		bySymbol[c.Symbol] = append(bySymbol[c.Symbol], c)
	}

	unified := make([]domain.UnifiedSignal, 0, len(bySymbol))
	for symbol, group := range bySymbol {
		sig, ok := a.consolidate(symbol, group)
		if !ok {
			continue
		}
		unified = append(unified, sig)
	}

	sort.Slice(unified, func(i, j int) bool {
		if unified[i].Priority != unified[j].Priority {
			return unified[i].Priority > unified[j].Priority
		}
		if unified[i].Confidence != unified[j].Confidence {
			return unified[i].Confidence > unified[j].Confidence
		}
		return unified[i].Symbol < unified[j].Symbol
	})

	if len(unified) > a.cfg.MaxSignals {
		unified = unified[:a.cfg.MaxSignals]
	}
	return unified
}

func (a *Aggregator) consolidate(symbol string, group []domain.SourceSignal) (domain.UnifiedSignal, bool) {
	var buy, sell, hold int
	for _, s := range group {
		switch s.Direction {
		case domain.DirectionBuy:
			buy++
		case domain.DirectionSell:
			sell++
		default:
			hold++
		}
	}

	// A Buy/Sell split with no majority is noise, not a signal.
	if buy > 0 && buy == sell {
		log.Printf("discarding %s: buy/sell tie (%d vs %d)", symbol, buy, sell)
		return domain.UnifiedSignal{}, false
	}

	direction := domain.DirectionHold
	switch {
	case buy > sell && buy >= hold:
		direction = domain.DirectionBuy
	case sell > buy && sell >= hold:
		direction = domain.DirectionSell
	}
	if direction == domain.DirectionHold {
		return domain.UnifiedSignal{}, false
	}

	agreeing := make([]domain.SourceSignal, 0, len(group))
	for _, s := range group {
		if s.Direction == direction {
			agreeing = append(agreeing, s)
		}
	}

	var confSum float64
	sources := make([]string, 0, len(agreeing))
	for _, s := range agreeing {
		confSum += s.Confidence
		sources = append(sources, s.Source)
	}
	confidence := confSum / float64(len(agreeing))

	bonus := a.cfg.ConsensusBonus * float64(len(agreeing)-1)
	if bonus > a.cfg.ConsensusBonusCap {
		bonus = a.cfg.ConsensusBonusCap
	}
	confidence = clamp(confidence+bonus, 0, 1)

	stopPct, targetPct := a.exitLevels(agreeing)

	mult := 1.0
	if a.regime != nil {
		mult = a.regime.Multiplier(symbol)
	}
	priority := priorityFor(confidence, len(agreeing), mult)

	horizon := domain.HorizonSwing
	if priority >= 4 {
		horizon = domain.HorizonIntraday
	}

	return domain.UnifiedSignal{
		Symbol:          symbol,
		Direction:       direction,
		Confidence:      confidence,
		Sources:         sources,
		BuyVotes:        buy,
		SellVotes:       sell,
		RiskReward:      targetPct / stopPct,
		Horizon:         horizon,
		Priority:        priority,
		PositionSizePct: a.kellySize(agreeing),
		StopLossPct:     stopPct,
		TakeProfitPct:   targetPct,
		Strategy:        strategyTag(agreeing),
		CreatedAt:       time.Now().UTC(),
	}, true
}

// kellySize seeds the position size with a fractional-Kelly estimate from the
// corroborating sources' backtest evidence, in percent of portfolio.
func (a *Aggregator) kellySize(agreeing []domain.SourceSignal) float64 {
	winRate, avgReturn := a.cfg.DefaultWinRate, a.cfg.DefaultAvgReturn
	var wrSum, arSum float64
	n := 0
	for _, s := range agreeing {
		if s.Backtest != nil && s.Backtest.AvgReturn > 0 {
			wrSum += s.Backtest.WinRate
			arSum += s.Backtest.AvgReturn
			n++
		}
	}
	if n > 0 {
		winRate = wrSum / float64(n)
		avgReturn = arSum / float64(n)
	}

	f := a.cfg.KellyFraction * (avgReturn*winRate - (1 - winRate)) / avgReturn
	return clamp(f*100, a.cfg.KellyMinPct, a.cfg.KellyMaxPct)
}

// exitLevels picks source-provided stops/targets when present, defaults
// otherwise (2% stop, 2.5:1 reward).
func (a *Aggregator) exitLevels(agreeing []domain.SourceSignal) (stopPct, targetPct float64) {
	var stopSum, targetSum float64
	var stops, targets int
	for _, s := range agreeing {
		if s.StopLossPct > 0 {
			stopSum += s.StopLossPct
			stops++
		}
		if s.TakeProfitPct > 0 {
			targetSum += s.TakeProfitPct
			targets++
		}
	}

	stopPct = a.cfg.DefaultStopLossPct
	if stops > 0 {
		stopPct = stopSum / float64(stops)
	}
	targetPct = stopPct * a.cfg.DefaultRewardRatio
	if targets > 0 {
		targetPct = targetSum / float64(targets)
	}
	return stopPct, targetPct
}

func priorityFor(confidence float64, consensus int, regimeMult float64) int {
	score := confidence * regimeMult * (1 + 0.05*float64(consensus-1))
	switch {
	case score >= 0.9:
		return 5
	case score >= 0.75:
		return 4
	case score >= 0.6:
		return 3
	case score >= 0.45:
		return 2
	default:
		return 1
	}
}

func strategyTag(agreeing []domain.SourceSignal) string {
	for _, s := range agreeing {
		if s.Strategy != "" {
			return s.Strategy
		}
	}
	return agreeing[0].Source
}

func validate(s domain.SourceSignal) error {
	switch {
	case s.Symbol == "":
		return errEmptySymbol
	case !s.Direction.IsValid():
		return errBadDirection
	case s.Confidence < 0 || s.Confidence > 1:
		return errBadConfidence
	case s.Source == "":
		return errEmptySource
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
