package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"connection_coordinator/internal/service"
	"connection_coordinator/internal/transport"
)

type HealthHandler struct {
	sessions service.SessionService
	hub      *transport.Hub
}

func NewHealthHandler(sessions service.SessionService, hub *transport.Hub) *HealthHandler {
	return &HealthHandler{
		sessions: sessions,
		hub:      hub,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "connection-coordinator",
	})
}

// Stats reports the connection counts: local is what this process holds,
// total is what the shared cache knows across processes.
func (h *HealthHandler) Stats(c *gin.Context) {
	total, err := h.sessions.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"local_connections": h.hub.Count(),
		"total_sessions":    total,
	})
}
