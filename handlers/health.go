package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ariaview/services"
	"ariaview/websocket"
)

// Version is reported by the health endpoints
var Version = "dev"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	engine services.DownloadService
	hub    websocket.Hub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(engine services.DownloadService, hub websocket.Hub) *HealthHandler {
	return &HealthHandler{engine: engine, hub: hub}
}

// HealthCheck returns the health status of the service. It reports
// degraded, but still 200, while aria2 is unreachable: the last snapshot is
// still being served.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := "healthy"
	if h.engine.Status().Upstream != "connected" {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"service":   "ariaview",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the synchronization state
func (h *HealthHandler) APIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "ariaview API is running",
		"engine":  h.engine.Status(),
		"viewers": h.hub.ClientCount(),
	})
}
