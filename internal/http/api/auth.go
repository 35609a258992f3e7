package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/marketprism/rategov/internal/config"
	"github.com/marketprism/rategov/internal/security"
)

// AuthHandler exchanges the admin token for a short-lived JWT.
type AuthHandler struct {
	jwtCfg    config.JWTConfig
	tokenHash string
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(jwtCfg config.JWTConfig, tokenHash string) *AuthHandler {
	return &AuthHandler{jwtCfg: jwtCfg, tokenHash: strings.TrimSpace(tokenHash)}
}

// loginRequest defines the request body for admin login.
type loginRequest struct {
	Token string `json:"token"`
}

// Login verifies the admin token and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	token := strings.TrimSpace(body.Token)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	if h.tokenHash == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin login disabled"})
		return
	}
	if !security.CheckPassword(h.tokenHash, token) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	signed, errSign := security.SignAdminToken(h.jwtCfg.Secret, "admin", h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      signed,
		"expires_in": int(h.jwtCfg.Expiry.Seconds()),
	})
}
