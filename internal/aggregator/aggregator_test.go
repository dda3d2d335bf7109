package aggregator

import (
	"context"
	"fmt"
	"math"
	"testing"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

func testConfig() Config {
	return Config{
		MaxSignals:         8,
		ConsensusBonus:     0.1,
		ConsensusBonusCap:  0.3,
		KellyFraction:      0.25,
		KellyMinPct:        1,
		KellyMaxPct:        5,
		DefaultWinRate:     0.55,
		DefaultAvgReturn:   0.02,
		DefaultStopLossPct: 2,
		DefaultRewardRatio: 2.5,
	}
}

func newTestAggregator(cfg Config) *Aggregator {
	return New(trace.NewNoopTracerProvider().Tracer("test"), cfg, nil)
}

func buySignal(symbol, source string, confidence float64) domain.SourceSignal {
	return domain.SourceSignal{
		Symbol: symbol, Direction: domain.DirectionBuy,
		Confidence: confidence, Source: source,
	}
}

func TestAggregateMajorityDirection(t *testing.T) {
	agg := newTestAggregator(testConfig())

	out := agg.Aggregate(context.Background(), []domain.SourceSignal{
		buySignal("BTCUSDT", "rsi", 0.7),
		buySignal("BTCUSDT", "sentiment", 0.8),
		{Symbol: "BTCUSDT", Direction: domain.DirectionSell, Confidence: 0.9, Source: "contrarian"},
	})

	if len(out) != 1 {
		t.Fatalf("expected one unified signal, got %d", len(out))
	}
	if out[0].Direction != domain.DirectionBuy {
		t.Fatalf("expected buy majority, got %s", out[0].Direction)
	}
	if out[0].SourceCount() != 2 {
		t.Fatalf("expected 2 corroborating sources, got %d", out[0].SourceCount())
	}
}

func TestAggregateDiscardsBuySellTie(t *testing.T) {
	agg := newTestAggregator(testConfig())

	out := agg.Aggregate(context.Background(), []domain.SourceSignal{
		buySignal("ETHUSDT", "rsi", 0.9),
		{Symbol: "ETHUSDT", Direction: domain.DirectionSell, Confidence: 0.9, Source: "macd"},
	})

	if len(out) != 0 {
		t.Fatalf("tied symbol must be discarded, got %+v", out)
	}
}

func TestAggregateSkipsHoldMajority(t *testing.T) {
	agg := newTestAggregator(testConfig())

	out := agg.Aggregate(context.Background(), []domain.SourceSignal{
		{Symbol: "ADAUSDT", Direction: domain.DirectionHold, Confidence: 0.9, Source: "a"},
		{Symbol: "ADAUSDT", Direction: domain.DirectionHold, Confidence: 0.9, Source: "b"},
		buySignal("ADAUSDT", "c", 0.9),
	})

	if len(out) != 0 {
		t.Fatalf("hold majority must produce no signal, got %+v", out)
	}
}

func TestAggregateConsensusBonusCapped(t *testing.T) {
	agg := newTestAggregator(testConfig())

	out := agg.Aggregate(context.Background(), []domain.SourceSignal{
		buySignal("BTCUSDT", "s1", 0.6),
		buySignal("BTCUSDT", "s2", 0.6),
		buySignal("BTCUSDT", "s3", 0.6),
		buySignal("BTCUSDT", "s4", 0.6),
		buySignal("BTCUSDT", "s5", 0.6),
	})

	if len(out) != 1 {
		t.Fatalf("expected one signal, got %d", len(out))
	}
	// Mean 0.6 plus bonus capped at +0.3 despite 4 corroborating sources.
	if math.Abs(out[0].Confidence-0.9) > 1e-9 {
		t.Fatalf("expected confidence 0.9, got %g", out[0].Confidence)
	}
}

func TestAggregateKellyClamps(t *testing.T) {
	agg := newTestAggregator(testConfig())

	strong := buySignal("BTCUSDT", "backtested", 0.8)
	strong.Backtest = &domain.BacktestPerformance{WinRate: 0.6, AvgReturn: 2.0, SampleSize: 200}
	out := agg.Aggregate(context.Background(), []domain.SourceSignal{strong})
	if out[0].PositionSizePct != 5 {
		t.Fatalf("strong edge should clamp to the Kelly ceiling, got %g", out[0].PositionSizePct)
	}

	weak := buySignal("ETHUSDT", "weak", 0.8)
	weak.Backtest = &domain.BacktestPerformance{WinRate: 0.4, AvgReturn: 0.02, SampleSize: 50}
	out = agg.Aggregate(context.Background(), []domain.SourceSignal{weak})
	if out[0].PositionSizePct != 1 {
		t.Fatalf("negative edge should clamp to the Kelly floor, got %g", out[0].PositionSizePct)
	}
}

func TestAggregateDefaultExitLevels(t *testing.T) {
	agg := newTestAggregator(testConfig())

	out := agg.Aggregate(context.Background(), []domain.SourceSignal{buySignal("BTCUSDT", "rsi", 0.7)})

	if out[0].StopLossPct != 2 {
		t.Fatalf("expected default 2%% stop, got %g", out[0].StopLossPct)
	}
	if out[0].TakeProfitPct != 5 {
		t.Fatalf("expected 2.5:1 default target of 5%%, got %g", out[0].TakeProfitPct)
	}
	if math.Abs(out[0].RiskReward-2.5) > 1e-9 {
		t.Fatalf("expected risk-reward 2.5, got %g", out[0].RiskReward)
	}
}

func TestAggregateSourceProvidedExits(t *testing.T) {
	agg := newTestAggregator(testConfig())

	sig := buySignal("BTCUSDT", "levels", 0.7)
	sig.StopLossPct = 1.5
	sig.TakeProfitPct = 6
	out := agg.Aggregate(context.Background(), []domain.SourceSignal{sig})

	if out[0].StopLossPct != 1.5 || out[0].TakeProfitPct != 6 {
		t.Fatalf("source exits should win over defaults, got stop=%g target=%g",
			out[0].StopLossPct, out[0].TakeProfitPct)
	}
}

func TestAggregateCapsOutput(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSignals = 3
	agg := newTestAggregator(cfg)

	var in []domain.SourceSignal
	for i := 0; i < 10; i++ {
		in = append(in, buySignal(fmt.Sprintf("SYM%dUSDT", i), "src", 0.5+float64(i)*0.05))
	}
	out := agg.Aggregate(context.Background(), in)

	if len(out) != 3 {
		t.Fatalf("expected capped output of 3, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].Confidence < out[i].Confidence {
			t.Fatal("output must be ranked best-first")
		}
	}
}

func TestAggregateDropsMalformedSignals(t *testing.T) {
	agg := newTestAggregator(testConfig())

	out := agg.Aggregate(context.Background(), []domain.SourceSignal{
		{Symbol: "", Direction: domain.DirectionBuy, Confidence: 0.9, Source: "a"},
		{Symbol: "BTCUSDT", Direction: "sideways", Confidence: 0.9, Source: "b"},
		{Symbol: "BTCUSDT", Direction: domain.DirectionBuy, Confidence: 1.7, Source: "c"},
		buySignal("BTCUSDT", "good", 0.8),
	})

	if len(out) != 1 {
		t.Fatalf("expected the one valid signal to survive, got %d", len(out))
	}
	if out[0].SourceCount() != 1 || out[0].Sources[0] != "good" {
		t.Fatalf("unexpected surviving sources: %v", out[0].Sources)
	}
}
