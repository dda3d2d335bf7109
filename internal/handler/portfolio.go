package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetPositions godoc
// @Summary      List open positions
// @Description  Returns the engine's live position ledger
// @Tags         trading
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/positions [get]
func (h *Handler) GetPositions(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-positions")
	defer span.End()

	positions := h.positions.Positions()
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// GetPortfolio godoc
// @Summary      Portfolio metrics
// @Description  Returns the latest monitor snapshot: equity, PnL, drawdown, VaR, ratios
// @Tags         trading
// @Produce      json
// @Success      200  {object}  domain.PortfolioMetrics
// @Router       /api/portfolio [get]
func (h *Handler) GetPortfolio(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-portfolio")
	defer span.End()

	c.JSON(http.StatusOK, h.state.Metrics())
}

// GetReports godoc
// @Summary      Execution reports
// @Description  Returns the last trading cycle summary and recent order events
// @Tags         trading
// @Produce      json
// @Param        limit  query  int  false  "Number of order events (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]string
// @Router       /api/reports [get]
func (h *Handler) GetReports(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-reports")
	defer span.End()

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	events, err := h.events.RecentEvents(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"last_cycle": h.cycles.LastCycle(),
		"events":     events,
	})
}
