package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/marketprism/rategov/internal/adapter"
	log "github.com/sirupsen/logrus"
)

// AdminHandler serves the JWT-protected mutation endpoints.
type AdminHandler struct {
	ad     *adapter.Adapter
	reload func() error
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(ad *adapter.Adapter, reload func() error) *AdminHandler {
	return &AdminHandler{ad: ad, reload: reload}
}

// UnbanIP clears the ban on an IP across all exchanges.
func (h *AdminHandler) UnbanIP(c *gin.Context) {
	ip := strings.TrimSpace(c.Param("ip"))
	if ip == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing ip"})
		return
	}
	if !h.ad.Unban(c.Request.Context(), ip) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ip not found"})
		return
	}
	log.WithField("ip", ip).Info("admin unban")
	c.JSON(http.StatusOK, gin.H{"ip": ip, "status": "unbanned"})
}

// Reload re-reads the configuration file when a reload hook is wired.
func (h *AdminHandler) Reload(c *gin.Context) {
	if h.reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reload not supported"})
		return
	}
	if errReload := h.reload(); errReload != nil {
		log.WithError(errReload).Warn("admin reload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
