package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetEmergency godoc
// @Summary      Emergency stop status
// @Tags         emergency
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/emergency [get]
func (h *Handler) GetEmergency(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-emergency")
	defer span.End()

	active, reason, at := h.state.EmergencyStatus()
	resp := gin.H{"active": active}
	if active {
		resp["reason"] = reason
		resp["triggered_at"] = at
	}
	c.JSON(http.StatusOK, resp)
}

// ResetEmergency godoc
// @Summary      Reset the emergency stop
// @Description  Clears the emergency flag; trading resumes on the next cycle
// @Tags         emergency
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/emergency/reset [post]
func (h *Handler) ResetEmergency(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.reset-emergency")
	defer span.End()

	active, reason, _ := h.state.EmergencyStatus()
	if !active {
		c.JSON(http.StatusConflict, gin.H{"error": "emergency mode is not active"})
		return
	}

	h.state.ResetEmergency()
	log.Printf("Emergency mode reset via API (was: %s)", reason)
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
