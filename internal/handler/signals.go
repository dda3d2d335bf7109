package handler

import (
	"errors"
	"net/http"

	"steady-hand/internal/domain"
	"steady-hand/internal/signal"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// PostSignal godoc
// @Summary      Submit an external trade signal
// @Description  Queues a source signal for the next trading cycle
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        signal  body  domain.SourceSignal  true  "Source signal"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/signals [post]
func (h *Handler) PostSignal(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.post-signal")
	defer span.End()

	var sig domain.SourceSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal payload: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("symbol", sig.Symbol), attribute.String("source", sig.Source))

	// Full validation happens in the aggregator; reject the obviously broken
	// here so producers get immediate feedback.
	if sig.Symbol == "" || sig.Source == "" || !sig.Direction.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol, source and a valid direction are required"})
		return
	}

	if err := h.intake.Push(sig); err != nil {
		if errors.Is(err, signal.ErrIntakeFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
