package risk

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"steady-hand/internal/domain"

	"github.com/montanaflynn/stats"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// MarketData is the slice of the exchange client the estimator needs.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// RedisClient abstracts the redis commands used for the volatility cache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

const volatilityKlineCount = 24

// VolatilityCache estimates per-symbol volatility from recent hourly candles
// and caches the figure in redis so a burst of assessments on the same symbol
// costs one exchange call.
type VolatilityCache struct {
	tracer trace.Tracer
	market MarketData
	redis  RedisClient
	ttl    time.Duration
}

func NewVolatilityCache(tracer trace.Tracer, market MarketData, rdb RedisClient, ttl time.Duration) *VolatilityCache {
	return &VolatilityCache{tracer: tracer, market: market, redis: rdb, ttl: ttl}
}

// Estimate returns the sample standard deviation of the last 24 hourly
// close-to-close returns.
func (v *VolatilityCache) Estimate(ctx context.Context, symbol string) (float64, error) {
	ctx, span := v.tracer.Start(ctx, "risk.estimate-volatility")
	defer span.End()

	key := "volatility:" + symbol
	if v.redis != nil {
		if cached, err := v.redis.Get(ctx, key).Result(); err == nil {
			if f, perr := strconv.ParseFloat(cached, 64); perr == nil {
				return f, nil
			}
		} else if err != redis.Nil {
			log.Printf("Warning: volatility cache read failed for %s: %v", symbol, err)
		}
	}

	candles, err := v.market.Klines(ctx, symbol, "60", volatilityKlineCount)
	if err != nil {
		return 0, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}
	if len(candles) < 2 {
		return 0, fmt.Errorf("not enough candles for %s: got %d", symbol, len(candles))
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev != 0 {
			returns = append(returns, candles[i].Close/prev-1)
		}
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0, fmt.Errorf("computing volatility for %s: %w", symbol, err)
	}

	if v.redis != nil {
		if err := v.redis.Set(ctx, key, strconv.FormatFloat(sd, 'f', -1, 64), v.ttl).Err(); err != nil {
			log.Printf("Warning: volatility cache write failed for %s: %v", symbol, err)
		}
	}
	return sd, nil
}
