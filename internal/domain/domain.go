package domain

import "time"

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

func (d Direction) IsValid() bool {
	return d == DirectionBuy || d == DirectionSell || d == DirectionHold
}

// Opposite returns the opposing trade direction. Hold has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionHold
	}
}

// BacktestPerformance is optional historical evidence attached to a source signal.
type BacktestPerformance struct {
	WinRate    float64 `json:"win_rate"`
	AvgReturn  float64 `json:"avg_return"`
	SampleSize int     `json:"sample_size"`
}

// SourceSignal is the upstream contract: one candidate signal from one source
// (technical scanner, sentiment feed, ML model, ...). Producers live outside
// this service.
type SourceSignal struct {
	Symbol        string               `json:"symbol"`
	Direction     Direction            `json:"direction"`
	Confidence    float64              `json:"confidence"`
	Source        string               `json:"source"`
	Strategy      string               `json:"strategy,omitempty"`
	Backtest      *BacktestPerformance `json:"backtest,omitempty"`
	StopLossPct   float64              `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64              `json:"take_profit_pct,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
}

type TimeHorizon string

const (
	HorizonIntraday TimeHorizon = "intraday"
	HorizonSwing    TimeHorizon = "swing"
)

// UnifiedSignal is the consolidated, ranked trade recommendation for one
// instrument. Immutable once produced by the aggregator.
type UnifiedSignal struct {
	Symbol          string      `json:"symbol"`
	Direction       Direction   `json:"direction"`
	Confidence      float64     `json:"confidence"`
	Sources         []string    `json:"sources"`
	BuyVotes        int         `json:"buy_votes"`
	SellVotes       int         `json:"sell_votes"`
	RiskReward      float64     `json:"risk_reward"`
	Horizon         TimeHorizon `json:"horizon"`
	Priority        int         `json:"priority"`
	PositionSizePct float64     `json:"position_size_pct"`
	StopLossPct     float64     `json:"stop_loss_pct"`
	TakeProfitPct   float64     `json:"take_profit_pct"`
	Strategy        string      `json:"strategy"`
	CreatedAt       time.Time   `json:"created_at"`
}

// SourceCount is the number of sources corroborating the winning direction.
func (s UnifiedSignal) SourceCount() int {
	return len(s.Sources)
}

// RiskAssessment is the approve/reject decision and sizing for one
// UnifiedSignal. Ephemeral per call; persisted only to the audit log.
type RiskAssessment struct {
	Signal             UnifiedSignal `json:"signal"`
	Approved           bool          `json:"approved"`
	RiskScore          float64       `json:"risk_score"`
	Warnings           []string      `json:"warnings,omitempty"`
	BlockReasons       []string      `json:"block_reasons,omitempty"`
	RecommendedSizePct float64       `json:"recommended_size_pct"`
	StopLossPct        float64       `json:"stop_loss_pct"`
	TakeProfitPct      float64       `json:"take_profit_pct"`
	AssessedAt         time.Time     `json:"assessed_at"`
}
