package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Tutorlink/internal/hub"
)

// MonitorHandler handles monitoring API endpoints
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
}

type monitorHandler struct {
	hub *hub.Hub
}

// NewMonitorHandler creates a new monitor handler
func NewMonitorHandler(h *hub.Hub) MonitorHandler {
	return &monitorHandler{hub: h}
}

// GetHubStats returns current hub statistics
func (h *monitorHandler) GetHubStats(c *gin.Context) {
	stats := h.hub.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   stats,
		"IsSuccess":      true,
		"Message":        "Hub statistics retrieved successfully",
	})
}
