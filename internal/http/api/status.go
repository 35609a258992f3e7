package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/marketprism/rategov/internal/adapter"
)

// StatusHandler serves the read-only status endpoints.
type StatusHandler struct {
	ad *adapter.Adapter
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(ad *adapter.Adapter) *StatusHandler {
	return &StatusHandler{ad: ad}
}

// Healthz reports process liveness.
func (h *StatusHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": h.ad.Mode()})
}

// Status returns the full system status document.
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.ad.SystemStatus())
}

// IPs returns the per-exchange IP management view.
func (h *StatusHandler) IPs(c *gin.Context) {
	status := h.ad.SystemStatus()
	c.JSON(http.StatusOK, gin.H{"ip_management": status.Coordinator.IPManagement})
}

// Clients lists clients with a live heartbeat.
func (h *StatusHandler) Clients(c *gin.Context) {
	clients, errList := h.ad.ActiveClients(c.Request.Context())
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list clients failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients)})
}
