package handler

import (
	"errors"
	"net/http"
	"strconv"

	"steady-hand/internal/repository"

	"github.com/gin-gonic/gin"
)

// GetAlerts godoc
// @Summary      List risk alerts
// @Description  Returns recent alerts, newest first; unresolved only by default
// @Tags         alerts
// @Produce      json
// @Param        limit             query  int   false  "Number of alerts (default 50)"  default(50)
// @Param        include_resolved  query  bool  false  "Include resolved alerts"
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]string
// @Router       /api/alerts [get]
func (h *Handler) GetAlerts(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-alerts")
	defer span.End()

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	includeResolved := c.Query("include_resolved") == "true"

	alerts, err := h.alerts.RecentAlerts(ctx, limit, includeResolved)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// AckAlert godoc
// @Summary      Acknowledge an alert
// @Tags         alerts
// @Produce      json
// @Param        id  path  int  true  "Alert id"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/alerts/{id}/ack [post]
func (h *Handler) AckAlert(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ack-alert")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	if err := h.alerts.Acknowledge(ctx, id); err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}
