package main

import (
	"inbox-platform/internal/auth"
	"inbox-platform/internal/autoreply"
	"inbox-platform/internal/ingest"
	"inbox-platform/internal/rbac"
	"inbox-platform/internal/send"
	"inbox-platform/internal/syncevent"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	webhooks ingest.WebhookHandler
	cron     syncevent.CronHandler
	login    auth.Handler
	send     send.Handler
	rules    autoreply.Handler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public; guarded by provider secrets, not JWT).
	r.GET("/webhooks/whatsapp", deps.webhooks.VerifyWhatsApp)
	r.POST("/webhooks/whatsapp", deps.webhooks.ReceiveWhatsApp)
	r.POST("/webhooks/email", deps.webhooks.ReceiveEmail)

	// Scheduler entrypoint for the recovery job.
	r.GET("/cron/sync", deps.cron.Run)

	// protected API group
	v1 := r.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", deps.login.PostLogin)
		authGroup.POST("/refresh", deps.login.PostRefresh)
	}

	protected := v1.Group("")
	protected.Use(deps.authMW)
	{
		protected.GET("/me", func(c *gin.Context) {
			agentID, _ := auth.AgentID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"agent_id": agentID, "role": role})
		})

		protected.POST("/messages/send", deps.send.Send)

		rules := protected.Group("/auto-replies")
		{
			rules.GET("", deps.rules.List)

			admin := rules.Group("")
			admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
			{
				admin.POST("", deps.rules.Create)
				admin.PATCH("/:id", deps.rules.Update)
			}
		}
	}
}
