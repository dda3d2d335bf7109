package signal

import (
	"context"
	"log"
	"math"
	"time"

	"steady-hand/internal/domain"
	"steady-hand/internal/ta"

	"go.opentelemetry.io/otel/trace"
)

// MarketData is the slice of the exchange client the scanner needs.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

const (
	scanInterval   = "60"
	scanKlineCount = 50

	rsiPeriod     = 14
	rsiOversold   = 30
	rsiOverbought = 70

	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	bollingerPeriod = 20
	bollingerWidth  = 2.0
)

// Scanner is the built-in technical signal source: RSI extremes and Bollinger
// touches for mean reversion, MACD for momentum. Per-symbol failures are
// logged and skipped.
type Scanner struct {
	tracer  trace.Tracer
	market  MarketData
	symbols []string
}

func NewScanner(tracer trace.Tracer, market MarketData, symbols []string) *Scanner {
	return &Scanner{tracer: tracer, market: market, symbols: symbols}
}

func (s *Scanner) Name() string { return "technical-scanner" }

func (s *Scanner) Fetch(ctx context.Context) ([]domain.SourceSignal, error) {
	ctx, span := s.tracer.Start(ctx, "scanner.fetch")
	defer span.End()

	var out []domain.SourceSignal
	for _, symbol := range s.symbols {
		candles, err := s.market.Klines(ctx, symbol, scanInterval, scanKlineCount)
		if err != nil {
			log.Printf("Warning: klines for %s unavailable: %v", symbol, err)
			continue
		}
		if len(candles) < bollingerPeriod {
			continue
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		out = append(out, s.scan(symbol, closes)...)
	}
	return out, nil
}

func (s *Scanner) scan(symbol string, closes []float64) []domain.SourceSignal {
	now := time.Now().UTC()
	var out []domain.SourceSignal

	if rsi := ta.RSI(closes, rsiPeriod); !math.IsNaN(rsi) {
		switch {
		case rsi <= rsiOversold:
			out = append(out, domain.SourceSignal{
				Symbol:     symbol,
				Direction:  domain.DirectionBuy,
				Confidence: clamp(0.55+(rsiOversold-rsi)/100, 0, 0.9),
				Source:     "rsi",
				Strategy:   "meanrev",
				Timestamp:  now,
			})
		case rsi >= rsiOverbought:
			out = append(out, domain.SourceSignal{
				Symbol:     symbol,
				Direction:  domain.DirectionSell,
				Confidence: clamp(0.55+(rsi-rsiOverbought)/100, 0, 0.9),
				Source:     "rsi",
				Strategy:   "meanrev",
				Timestamp:  now,
			})
		}
	}

	if macd, sig, hist := ta.MACD(closes, macdFast, macdSlow, macdSignal); !math.IsNaN(hist) {
		last := closes[len(closes)-1]
		if last > 0 {
			// Histogram relative to price keeps the threshold scale-free.
			strength := math.Abs(hist) / last
			if strength > 0.001 {
				dir := domain.DirectionBuy
				if macd < sig {
					dir = domain.DirectionSell
				}
				out = append(out, domain.SourceSignal{
					Symbol:     symbol,
					Direction:  dir,
					Confidence: clamp(0.5+strength*50, 0, 0.85),
					Source:     "macd",
					Strategy:   "momentum",
					Timestamp:  now,
				})
			}
		}
	}

	if _, upper, lower := ta.Bollinger(closes, bollingerPeriod, bollingerWidth); !math.IsNaN(lower) && upper > lower {
		last := closes[len(closes)-1]
		switch {
		case last <= lower:
			out = append(out, domain.SourceSignal{
				Symbol:     symbol,
				Direction:  domain.DirectionBuy,
				Confidence: 0.6,
				Source:     "bollinger",
				Strategy:   "meanrev",
				Timestamp:  now,
			})
		case last >= upper:
			out = append(out, domain.SourceSignal{
				Symbol:     symbol,
				Direction:  domain.DirectionSell,
				Confidence: 0.6,
				Source:     "bollinger",
				Strategy:   "meanrev",
				Timestamp:  now,
			})
		}
	}
	return out
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
