package ta

import "math"

// RSI returns the Wilder-smoothed relative strength index for the close
// series, or NaN when there is not enough history.
func RSI(closes []float64, period int) float64 {
	if len(closes) <= period || period <= 0 {
		return math.NaN()
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN()
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// EMA returns the exponential moving average series.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	if period <= 1 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACD returns the latest MACD line, signal line and histogram values.
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, histogram float64) {
	if len(values) < slow+signal {
		return math.NaN(), math.NaN(), math.NaN()
	}
	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	line := make([]float64, len(values))
	for i := range values {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	last := len(values) - 1
	return line[last], sig[last], line[last] - sig[last]
}

// Bollinger returns the latest middle/upper/lower band for the close series.
func Bollinger(values []float64, period int, stdDevs float64) (middle, upper, lower float64) {
	if len(values) < period || period <= 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	window := values[len(values)-period:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(period)
	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))
	return mean, mean + stdDevs*std, mean - stdDevs*std
}
