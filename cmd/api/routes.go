package main

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"voice-engine/internal/auth"
	"voice-engine/internal/callcontext"
	"voice-engine/internal/config"
	"voice-engine/internal/store"
	"voice-engine/internal/telephony"
	"voice-engine/internal/tools"
)

// apiDeps carries shared dependencies into route handlers. No globals.
type apiDeps struct {
	cfg        config.Config
	log        *slog.Logger
	store      store.Store
	cache      *callcontext.Cache
	rdb        *redis.Client
	auth       *auth.Manager
	caller     telephony.CallCreator
	dispatcher *tools.Dispatcher

	// rootCtx parents every media session so shutdown drains them.
	rootCtx context.Context
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, d apiDeps) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	h := telephony.Handler{
		Store:     d.store,
		Cache:     d.cache,
		Calls:     d.caller,
		RDB:       d.rdb,
		MaxCalls:  d.cfg.Calls.MaxConcurrent,
		CallTTL:   d.cfg.Calls.ContextTTL,
		PublicURL: d.cfg.App.PublicURL,
		From:      d.cfg.Twilio.PhoneNumber,
	}

	// Provider webhooks (public).
	// NOTE: these should be protected by Twilio signature validation in production.
	r.POST("/webhooks/twilio/voice", h.HandleInboundVoice)
	r.POST(telephony.OutboundTwiMLPath, h.HandleOutboundTwiML)

	// Media stream websocket; Twilio connects here per the TwiML above.
	r.GET(telephony.WebsocketPath, mediaStreamHandler(d))

	// Service API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireServiceToken(d.auth))
	{
		v1.POST("/calls/outbound", h.HandleInitiateOutbound)
	}
}
