package handler

import (
	"context"

	"steady-hand/internal/domain"
	"steady-hand/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// PositionSource exposes the engine's live position ledger.
type PositionSource interface {
	Positions() []domain.Position
}

// AlertStore is the persisted alert surface used by the API.
type AlertStore interface {
	RecentAlerts(ctx context.Context, limit int, includeResolved bool) ([]domain.RiskAlert, error)
	Acknowledge(ctx context.Context, id int64) error
}

// EventLog reads the order audit trail.
type EventLog interface {
	RecentEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error)
}

// SignalIntake accepts externally produced signals.
type SignalIntake interface {
	Push(sig domain.SourceSignal) error
}

// CycleInfo exposes the last trading cycle summary.
type CycleInfo interface {
	LastCycle() service.CycleResult
}

type Handler struct {
	tracer    trace.Tracer
	positions PositionSource
	alerts    AlertStore
	events    EventLog
	intake    SignalIntake
	cycles    CycleInfo
	state     *domain.PortfolioState
	apiKey    string
}

func New(
	tracer trace.Tracer,
	positions PositionSource,
	alerts AlertStore,
	events EventLog,
	intake SignalIntake,
	cycles CycleInfo,
	state *domain.PortfolioState,
	apiKey string,
) *Handler {
	return &Handler{
		tracer:    tracer,
		positions: positions,
		alerts:    alerts,
		events:    events,
		intake:    intake,
		cycles:    cycles,
		state:     state,
		apiKey:    apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/positions", h.GetPositions)
	r.GET("/api/portfolio", h.GetPortfolio)
	r.GET("/api/reports", h.GetReports)
	r.GET("/api/alerts", h.GetAlerts)
	r.GET("/api/emergency", h.GetEmergency)

	auth := r.Group("/api", APIKeyAuth(h.apiKey))
	auth.POST("/signals", h.PostSignal)
	auth.POST("/alerts/:id/ack", h.AckAlert)
	auth.POST("/emergency/reset", h.ResetEmergency)
}
