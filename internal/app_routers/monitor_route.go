package approuters

import (
	"github.com/gin-gonic/gin"

	"Tutorlink/internal/configuration"
	"Tutorlink/internal/handler"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorHandler := handler.NewMonitorHandler(container.Hub)

	monitorGroup := router.Group("/tl/api/monitor")
	{
		monitorGroup.GET("/stats", monitorHandler.GetHubStats)
	}
}
