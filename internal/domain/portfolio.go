package domain

import (
	"sync"
	"time"
)

// PortfolioMetrics is the aggregate risk picture, recomputed periodically by
// the portfolio monitor and read by the risk assessor.
type PortfolioMetrics struct {
	Equity              float64   `json:"equity"`
	DailyPnL            float64   `json:"daily_pnl"`
	TotalPnL            float64   `json:"total_pnl"`
	DrawdownPct         float64   `json:"drawdown_pct"`
	VaR95               float64   `json:"var_95"`
	VaR99               float64   `json:"var_99"`
	Sharpe              float64   `json:"sharpe"`
	Sortino             float64   `json:"sortino"`
	CorrelationExposure float64   `json:"correlation_exposure"`
	OpenPositions       int       `json:"open_positions"`
	ComputedAt          time.Time `json:"computed_at"`
}

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

type AlertType string

const (
	AlertDrawdown      AlertType = "drawdown"
	AlertDailyLoss     AlertType = "daily_loss"
	AlertVaRBreach     AlertType = "var_breach"
	AlertSharpeFloor   AlertType = "sharpe_floor"
	AlertConcentration AlertType = "concentration"
	AlertEmergencyStop AlertType = "emergency_stop"
	AlertCycleFailure  AlertType = "cycle_failure"
)

// RiskAlert is raised by the portfolio monitor for external operators.
type RiskAlert struct {
	ID           int64         `json:"id"`
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	Symbols      []string      `json:"symbols,omitempty"`
	Action       string        `json:"action,omitempty"`
	Acknowledged bool          `json:"acknowledged"`
	Resolved     bool          `json:"resolved"`
	RaisedAt     time.Time     `json:"raised_at"`
}

// PortfolioState is the explicitly owned shared-state handle passed to each
// component: the emergency-mode flag plus the latest metrics snapshot.
// There are no package-level singletons for engine state.
type PortfolioState struct {
	mu              sync.RWMutex
	emergency       bool
	emergencyReason string
	emergencyAt     time.Time
	metrics         PortfolioMetrics
}

func NewPortfolioState() *PortfolioState {
	return &PortfolioState{}
}

// TriggerEmergency sets the emergency flag. The first trigger wins; the reason
// is kept until an explicit reset.
func (s *PortfolioState) TriggerEmergency(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emergency {
		return false
	}
	s.emergency = true
	s.emergencyReason = reason
	s.emergencyAt = time.Now().UTC()
	return true
}

// ResetEmergency clears the flag. Requires explicit operator action.
func (s *PortfolioState) ResetEmergency() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergency = false
	s.emergencyReason = ""
	s.emergencyAt = time.Time{}
}

func (s *PortfolioState) EmergencyMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emergency
}

// EmergencyStatus returns the flag, the trigger reason and the trigger time.
func (s *PortfolioState) EmergencyStatus() (bool, string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emergency, s.emergencyReason, s.emergencyAt
}

// SetMetrics publishes a new metrics snapshot.
func (s *PortfolioState) SetMetrics(m PortfolioMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Metrics returns the latest snapshot (zero value before the first compute).
func (s *PortfolioState) Metrics() PortfolioMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}
