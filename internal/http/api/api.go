// Package api exposes the status and admin HTTP surface over gin.
// Read endpoints are open; mutations sit behind an admin JWT.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/marketprism/rategov/internal/adapter"
	"github.com/marketprism/rategov/internal/config"
	"github.com/marketprism/rategov/internal/security"
)

// Options wires the API to the running adapter and its admin credentials.
type Options struct {
	Adapter        *adapter.Adapter // Running adapter, required.
	JWT            config.JWTConfig // Admin token signing settings.
	AdminTokenHash string           // bcrypt hash of the admin login token.
	Reload         func() error     // Optional config reload hook.
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, opts)
	return r
}

// RegisterRoutes registers status and admin routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, opts Options) {
	if r == nil || opts.Adapter == nil {
		return
	}

	statusHandler := NewStatusHandler(opts.Adapter)
	r.GET("/healthz", statusHandler.Healthz)
	r.GET("/v0/status", statusHandler.Status)
	r.GET("/v0/ips", statusHandler.IPs)
	r.GET("/v0/clients", statusHandler.Clients)

	adminGroup := r.Group("/v0/admin")

	authHandler := NewAuthHandler(opts.JWT, opts.AdminTokenHash)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(opts.JWT))

	adminHandler := NewAdminHandler(opts.Adapter, opts.Reload)
	authed.POST("/ips/:ip/unban", adminHandler.UnbanIP)
	authed.POST("/reload", adminHandler.Reload)
}

// adminAuthMiddleware validates admin JWTs from the Authorization header.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("admin_subject", claims.Subject)
		c.Next()
	}
}
