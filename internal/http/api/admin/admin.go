// Package admin registers the admin API: authentication plus standing
// inspection and manual control.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rankgate/rankgate/internal/config"
	"github.com/rankgate/rankgate/internal/engine"
	"github.com/rankgate/rankgate/internal/http/api/admin/handlers"
	"github.com/rankgate/rankgate/internal/http/middleware"
	"github.com/rankgate/rankgate/internal/models"
	"github.com/rankgate/rankgate/internal/rule"
	"github.com/rankgate/rankgate/internal/security"
	"gorm.io/gorm"
)

// loginEndpointKey namespaces the login brute-force ladder's storage.
const loginEndpointKey = "POST /v0/admin/login"

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
// loginLadder guards the login route with the engine itself; returning an
// empty ladder disables the guard.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, eng *engine.Engine, jwtCfg config.JWTConfig, loginLadder func() rule.Ladder) {
	if r == nil || db == nil || eng == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	versionHandler := handlers.NewVersionHandler()
	r.GET("/v0/version", versionHandler.GetVersion)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	login := adminGroup.Group("")
	if loginLadder != nil {
		login.Use(middleware.ForEndpoint(eng, loginLadder, loginEndpointKey, nil, false))
	}
	login.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	standingHandler := handlers.NewStandingHandler(eng, db)
	authed.GET("/standings", standingHandler.List)
	authed.GET("/standings/show", standingHandler.Show)
	authed.POST("/standings/rank", standingHandler.SetRank)
	authed.POST("/standings/block", standingHandler.Block)
	authed.POST("/standings/unblock", standingHandler.Unblock)
	authed.POST("/standings/exempt", standingHandler.Exempt)
	authed.DELETE("/standings", standingHandler.Delete)

	eventHandler := handlers.NewEventHandler(db)
	authed.GET("/events", eventHandler.List)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
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

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
