package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Health check
// @Description  Returns the health status of the service
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	if h.state != nil && h.state.EmergencyMode() {
		status = "halted"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
