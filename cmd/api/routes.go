package main

import (
	"database/sql"
	"time"

	"callhelm/internal/httpapi"
	"callhelm/internal/rbac"
	"callhelm/internal/telephony"
	"callhelm/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, webhook telephony.WebhookHandler, authMW gin.HandlerFunc, database *sql.DB, rdb *redis.Client) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := db.HealthCheck(c.Request.Context(), database, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider lifecycle webhooks (public).
	// NOTE: should be protected by vendor signature validation in production.
	r.POST("/webhooks/:provider/status", webhook.HandleStatus)

	// Token issuance.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireOrg())
	{
		// CALLS routes: agents place and close calls.
		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleAgent))
		{
			callsGroup.POST("/initiate", h.InitiateCall)
			callsGroup.POST("/:id/timeout", h.TimeoutCall)
			callsGroup.GET("/:id", h.GetCall)
		}

		// DASHBOARD routes: anyone on the floor can watch the board.
		dash := v1.Group("/dashboard")
		dash.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleAgent, rbac.RoleAnalyst))
		{
			dash.GET("/board", h.GetBoard)
			dash.GET("/stats", h.GetStats)
			dash.GET("/agents", h.GetAgents)
			dash.POST("/refresh", h.RefreshBoard)
		}

		// USAGE: plan and period counters.
		v1.GET("/usage", append(httpapi.RequireOrgAndAnyRole(rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleAnalyst), h.GetUsage)...)

		// REPORTS: exports are for owners/admins/analysts, not agents.
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleAnalyst))
		{
			reports.GET("/calls/today.xlsx", h.ExportTodayCalls)
		}
	}
}
