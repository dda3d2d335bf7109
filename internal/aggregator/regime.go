package aggregator

import (
	"sync"

	"github.com/montanaflynn/stats"
)

// RegimeClassifier keeps a rolling window of mark prices per symbol and
// classifies the market regime into a priority multiplier: trending calm
// markets score signals up, choppy volatile ones score them down.
type RegimeClassifier struct {
	mu      sync.Mutex
	window  int
	highVol float64
	closes  map[string][]float64
}

func NewRegimeClassifier(window int, highVol float64) *RegimeClassifier {
	if window < 8 {
		window = 8
	}
	return &RegimeClassifier{
		window:  window,
		highVol: highVol,
		closes:  make(map[string][]float64),
	}
}

// Observe records a mark price for the symbol, evicting beyond the window.
func (r *RegimeClassifier) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	series := append(r.closes[symbol], price)
	if len(series) > r.window {
		series = series[len(series)-r.window:]
	}
	r.closes[symbol] = series
}

// Multiplier returns the regime multiplier in [0.6, 1.2]. Symbols without
// enough history are neutral.
func (r *RegimeClassifier) Multiplier(symbol string) float64 {
	r.mu.Lock()
	series := append([]float64(nil), r.closes[symbol]...)
	r.mu.Unlock()

	if len(series) < 8 {
		return 1.0
	}

	trending := isTrending(series)
	volatile := r.isVolatile(series)

	switch {
	case trending && !volatile:
		return 1.2
	case trending && volatile:
		return 1.0
	case !trending && !volatile:
		return 0.8
	default:
		return 0.6
	}
}

// isTrending compares the mean of the two window halves against a 1% band.
func isTrending(series []float64) bool {
	half := len(series) / 2
	first, err1 := stats.Mean(series[:half])
	second, err2 := stats.Mean(series[half:])
	if err1 != nil || err2 != nil || first == 0 {
		return false
	}
	drift := (second - first) / first
	return drift > 0.01 || drift < -0.01
}

func (r *RegimeClassifier) isVolatile(series []float64) bool {
	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] != 0 {
			returns = append(returns, series[i]/series[i-1]-1)
		}
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return false
	}
	return sd > r.highVol
}
