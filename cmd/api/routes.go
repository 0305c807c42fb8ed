package main

import (
	"fleetcall/internal/audit"
	"fleetcall/internal/auth"
	"fleetcall/internal/cache"
	"fleetcall/internal/calls"
	"fleetcall/internal/config"
	"fleetcall/internal/dialer"
	"fleetcall/internal/httpapi"
	"fleetcall/internal/stream"
	"fleetcall/internal/telephony"

	"github.com/gin-gonic/gin"
)

type deps struct {
	cfg       config.Config
	auth      *auth.Manager
	store     calls.Store
	lifecycle *calls.Lifecycle
	dialer    *dialer.Service
	registry  *telephony.Registry
	bus       *stream.Bus
	cache     *cache.Cache
	audit     *audit.Service
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	h := httpapi.Handlers{
		Auth:     d.auth,
		Store:    d.store,
		Dialer:   d.dialer,
		Registry: d.registry,
		Audit:    d.audit,
		Cache:    d.cache,
		StatsTTL: d.cfg.Cache.StatsTTL,
	}
	wh := httpapi.WebhookHandlers{
		Store:      d.store,
		Lifecycle:  d.lifecycle,
		Normalizer: telephony.NewNormalizer(nil),
		Bus:        d.bus,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Providers retry on non-2xx.
	r.POST("/webhooks/:provider", wh.Receive)
	r.GET("/webhooks/:provider", wh.Verify)

	v1 := r.Group("/v1")

	// Token issuance.
	v1.POST("/auth/login", h.Login)

	// Scheduler trigger, guarded by the shared secret so cron can call
	// it without a user session.
	v1.POST("/dialer/process", auth.RequireTriggerSecret(d.cfg.Dialer.TriggerSecret), h.ProcessDialer)

	// Operator surface.
	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(d.auth))
	{
		protected.POST("/calls/start", h.StartCall)
		protected.GET("/calls/:id", h.GetCall)
		protected.POST("/calls/:id/hangup", h.Hangup)
		protected.GET("/calls/stream", stream.SSEHandler(d.bus))

		protected.GET("/stats", h.Stats)
		protected.GET("/providers", h.Providers)
	}
}
