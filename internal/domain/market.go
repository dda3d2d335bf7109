package domain

import "time"

// Candle represents a single OHLCV candle for a symbol at a given interval.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// MajorPairs are the deep-liquidity perpetual pairs. Anything else pays the
// illiquidity penalty during risk assessment.
var MajorPairs = map[string]bool{
	"BTCUSDT":  true,
	"ETHUSDT":  true,
	"SOLUSDT":  true,
	"BNBUSDT":  true,
	"XRPUSDT":  true,
	"ADAUSDT":  true,
	"DOGEUSDT": true,
	"LINKUSDT": true,
}

// BaseAsset strips the quote currency from a pair symbol ("BTCUSDT" -> "BTC").
func BaseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "USD", "BUSD"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}
