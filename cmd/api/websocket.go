package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voice-engine/internal/gemini"
	"voice-engine/internal/prompt"
	"voice-engine/internal/stream"
	"voice-engine/pkg/logger"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Twilio connects server-to-server with no Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// mediaStreamHandler upgrades Twilio's connection and runs one media
// session over it. An outbound call resolves its cached context here; a
// missing or absent context degrades to an inbound-style session.
func mediaStreamHandler(d apiDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		info := stream.CallInfo{}
		systemPrompt := prompt.Inbound(prompt.Reservation{})
		if id := c.Query("context_id"); id != "" {
			if cc, ok := d.cache.Get(c.Request.Context(), id); ok {
				info = stream.CallInfo{
					RequestID:      cc.RequestID,
					RestaurantID:   cc.RestaurantID,
					RestaurantName: cc.RestaurantName,
					UserID:         cc.UserID,
				}
				systemPrompt = prompt.Outbound(cc)
				// Consume the context so a reconnect cannot reuse it.
				d.cache.Delete(c.Request.Context(), id)
			} else {
				log.Warn("call context not found, continuing without it", "context_id", id)
			}
		}

		conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		ai := gemini.NewClient(gemini.Config{
			APIKey: d.cfg.Gemini.APIKey,
			Model:  d.cfg.Gemini.Model,
			Voice:  d.cfg.Gemini.Voice,
			Logger: log,
		})

		sess := stream.New(stream.Config{
			Socket:       conn,
			AI:           ai,
			Store:        d.store,
			Dispatcher:   d.dispatcher,
			SystemPrompt: systemPrompt,
			Info:         info,
			Logger:       log,
		})

		// The session outlives the HTTP request; the root context ends it
		// on process shutdown.
		if err := sess.Run(d.rootCtx); err != nil {
			log.Error("media session failed", "err", err)
		}
	}
}
