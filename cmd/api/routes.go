package main

import (
	"net/http"

	"telephony-failover/internal/app"
	"telephony-failover/internal/httpapi"
	"telephony-failover/internal/rbac"
	"telephony-failover/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, reg *prometheus.Registry, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := a.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Provider webhooks (public).
	{
		h := telephony.WebhookHandler{
			Agents:        a.Store,
			Accounts:      a.Store,
			SIPDomain:     a.Config.Platform.SIPDomain,
			PublicBaseURL: a.Config.App.PublicBaseURL,
			Metrics:       a.Metrics,
		}
		hooks := r.Group("/webhooks/telephony")
		hooks.POST("/voice", h.HandleInboundCall)
		hooks.POST("/status", h.HandleStatusCallback)
	}

	h := httpapi.Handlers{
		Monitor:  a.Monitor,
		Failover: a.Orchestrator,
		Events:   a.Store,
		Audit:    a.Audit,
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		readers := rbac.RequireAnyRole(rbac.RoleViewer, rbac.RoleOperator)
		operators := rbac.RequireAnyRole(rbac.RoleOperator)

		accounts := v1.Group("/accounts/:account_id")
		accounts.Use(operators)
		{
			accounts.POST("/health-checks", h.RunHealthCheck)
			accounts.POST("/evaluations", h.Evaluate)
			accounts.POST("/failovers", h.TriggerFailover)
		}

		events := v1.Group("/failover-events")
		{
			events.GET("", readers, h.ListEvents)
			events.GET("/:event_id", readers, h.GetEvent)
			events.POST("/:event_id/approve", operators, h.ApproveEvent)
			events.POST("/:event_id/cancel", operators, h.CancelEvent)
			events.POST("/:event_id/rollback", operators, h.RollbackEvent)
		}

		// Admin only: admin bypasses every role list, so an empty list admits nobody else.
		v1.GET("/audit-events", rbac.RequireAnyRole(), h.ListAuditEvents)
	}
}
