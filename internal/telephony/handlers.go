package telephony

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voice-engine/internal/callcontext"
	"voice-engine/internal/store"
	"voice-engine/pkg/logger"
	"voice-engine/pkg/utils"
)

const (
	// WebsocketPath is where TwiML points the media stream.
	WebsocketPath = "/ws/twilio"
	// OutboundTwiMLPath is fetched by Twilio when an outbound call is
	// answered.
	OutboundTwiMLPath = "/webhooks/twilio/outbound"

	concurrencyKey = "voice:outbound:active"
	configErrorSay = "Configuration error. Goodbye."
	inboundGreet   = "Connecting you to the reservation assistant."
)

// Handler exposes the Twilio-facing HTTP surface: the inbound voice
// webhook, the outbound-answer TwiML webhook, and the internal call
// initiation endpoint. Websocket upgrades live in the API wiring, not
// here; this layer only speaks TwiML and JSON.
type Handler struct {
	Store     store.Store
	Cache     *callcontext.Cache
	Calls     CallCreator
	RDB       *redis.Client // optional; bounds concurrent outbound calls
	MaxCalls  int
	CallTTL   time.Duration // cap slot lifetime, matches the context TTL
	PublicURL string
	From      string // E.164 caller id for outbound calls
}

type outboundRequest struct {
	RequestID    string `json:"request_id" binding:"required"`
	RestaurantID string `json:"restaurant_id" binding:"required"`
}

// HandleInboundVoice answers Twilio's webhook for calls placed to our
// number with TwiML that bridges the caller onto the media stream.
func (h Handler) HandleInboundVoice(c *gin.Context) {
	log := logger.FromGin(c)

	twiml, err := StreamTwiML(StreamOptions{
		URL: websocketURL(h.PublicURL, WebsocketPath, ""),
		Say: inboundGreet,
		Parameters: map[string]string{
			"call_type": "inbound",
		},
	})
	if err != nil {
		log.Error("inbound twiml render failed", "err", err)
		c.Data(http.StatusOK, "application/xml", []byte(HangupTwiML(configErrorSay)))
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

// HandleOutboundTwiML answers Twilio's fetch after the restaurant picks
// up. The context_id written at initiation time must still resolve;
// otherwise the call is spoken an apology and hung up (Twilio requires a
// 200 with TwiML either way).
func (h Handler) HandleOutboundTwiML(c *gin.Context) {
	log := logger.FromGin(c)

	contextID := c.Query("context_id")
	if contextID == "" {
		log.Warn("outbound twiml fetch missing context_id")
		c.Data(http.StatusOK, "application/xml", []byte(HangupTwiML(configErrorSay)))
		return
	}
	cc, ok := h.Cache.Get(c.Request.Context(), contextID)
	if !ok {
		log.Warn("outbound call context not found", "context_id", contextID)
		c.Data(http.StatusOK, "application/xml", []byte(HangupTwiML(configErrorSay)))
		return
	}

	twiml, err := StreamTwiML(StreamOptions{
		URL: websocketURL(h.PublicURL, WebsocketPath, "context_id="+contextID),
		Parameters: map[string]string{
			"call_type":     "outbound",
			"request_id":    cc.RequestID,
			"restaurant_id": cc.RestaurantID,
		},
	})
	if err != nil {
		log.Error("outbound twiml render failed", "err", err)
		c.Data(http.StatusOK, "application/xml", []byte(HangupTwiML(configErrorSay)))
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

// HandleInitiateOutbound starts a reservation call: it validates the
// request and restaurant rows, caches the call context for the TwiML
// callback, and places the call through the provider.
func (h Handler) HandleInitiateOutbound(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	var req outboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "request_id and restaurant_id are required"})
		return
	}
	if h.Store == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Database not available"})
		return
	}

	reqRows, err := h.Store.Select(ctx, store.TableReservationRequests, store.Filter{"id": req.RequestID})
	if err != nil {
		log.Error("reservation request lookup failed", "request_id", req.RequestID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if len(reqRows) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Reservation request not found"})
		return
	}
	request := reqRows[0]
	switch request.String("status") {
	case store.RequestStatusPending, store.RequestStatusCalling, store.RequestStatusInProgress:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Reservation request must be pending or in_progress"})
		return
	}

	restRows, err := h.Store.Select(ctx, store.TableRestaurants, store.Filter{"id": req.RestaurantID})
	if err != nil {
		log.Error("restaurant lookup failed", "restaurant_id", req.RestaurantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if len(restRows) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Restaurant not found"})
		return
	}
	restaurant := restRows[0]
	phone := strings.TrimSpace(restaurant.String("phone"))
	if phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Restaurant has no phone number"})
		return
	}

	if h.RDB != nil && h.MaxCalls > 0 {
		// The slot is freed by TTL rather than an explicit release;
		// sessions finish well inside the context TTL.
		ok, err := utils.AcquireConcurrencyCap(ctx, h.RDB, concurrencyKey, h.MaxCalls, h.capTTL())
		if err != nil {
			log.Warn("concurrency cap check failed, allowing call", "err", err)
		} else if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many concurrent calls"})
			return
		}
	}

	cc := h.buildContext(c, request, restaurant)
	contextID := uuid.NewString()
	h.Cache.Put(ctx, contextID, cc)

	twimlURL := httpURL(h.PublicURL, OutboundTwiMLPath, "context_id="+contextID)
	callSID, err := h.Calls.CreateCall(ctx, phone, h.From, twimlURL)
	if err != nil {
		log.Error("outbound call creation failed", "request_id", req.RequestID, "err", err)
		h.Cache.Delete(ctx, contextID)
		if h.RDB != nil && h.MaxCalls > 0 {
			_ = utils.ReleaseConcurrencyCap(ctx, h.RDB, concurrencyKey)
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Call initiation failed"})
		return
	}

	if _, err := h.Store.Update(ctx, store.TableReservationRequests,
		store.Record{"status": store.RequestStatusCalling},
		store.Filter{"id": req.RequestID},
	); err != nil {
		log.Error("request status update failed", "request_id", req.RequestID, "err", err)
	}

	log.Info("outbound call initiated",
		"request_id", req.RequestID, "restaurant_id", req.RestaurantID,
		"call_sid", callSID, "context_id", contextID,
	)
	c.JSON(http.StatusOK, gin.H{"status": "initiated", "call_sid": callSID})
}

func (h Handler) buildContext(c *gin.Context, request, restaurant store.Record) callcontext.Context {
	cc := callcontext.Context{
		CallType:        "outbound",
		RequestID:       request.String("id"),
		RestaurantID:    restaurant.String("id"),
		RestaurantName:  restaurant.String("name"),
		UserID:          request.String("user_id"),
		PartySize:       recordInt(request, "party_size"),
		RequestedDate:   request.String("requested_date"),
		TimeRangeStart:  request.String("time_range_start"),
		TimeRangeEnd:    request.String("time_range_end"),
		SpecialRequests: request.String("special_requests"),
	}

	if cc.UserID != "" {
		users, err := h.Store.Select(c.Request.Context(), store.TableUsers, store.Filter{"id": cc.UserID})
		if err != nil {
			logger.FromGin(c).Warn("user lookup failed", "user_id", cc.UserID, "err", err)
		} else if len(users) > 0 {
			cc.UserName = users[0].String("name")
			cc.ContactPhone = users[0].String("phone")
		}
	}
	return cc
}

func (h Handler) capTTL() time.Duration {
	if h.CallTTL > 0 {
		return h.CallTTL
	}
	return callcontext.DefaultTTL
}

func recordInt(r store.Record, key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// websocketURL derives the media stream address from the public base URL,
// downgrading to ws:// only for plain-http local deployments.
func websocketURL(base, path, query string) string {
	scheme := "wss"
	host := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(host, "https://"):
		host = strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		host = strings.TrimPrefix(host, "http://")
		scheme = "ws"
	}
	u := scheme + "://" + host + path
	if query != "" {
		u += "?" + query
	}
	return u
}

func httpURL(base, path, query string) string {
	host := strings.TrimRight(base, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	u := host + path
	if query != "" {
		u += "?" + query
	}
	return u
}
