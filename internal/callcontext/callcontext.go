package callcontext

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Context carries everything an answered outbound call needs to resume:
// correlation ids for the call record plus the reservation details the
// prompt builder interpolates. It is stored between call initiation and
// the provider's TwiML callback, which may land on another instance.
type Context struct {
	CallType        string `json:"call_type"`
	RequestID       string `json:"request_id"`
	RestaurantID    string `json:"restaurant_id"`
	RestaurantName  string `json:"restaurant_name"`
	UserID          string `json:"user_id"`
	UserName        string `json:"user_name"`
	PartySize       int    `json:"party_size"`
	RequestedDate   string `json:"requested_date"`
	TimeRangeStart  string `json:"time_range_start"`
	TimeRangeEnd    string `json:"time_range_end"`
	SpecialRequests string `json:"special_requests"`
	ContactPhone    string `json:"contact_phone"`
}

const (
	keyPrefix  = "callctx:"
	DefaultTTL = 10 * time.Minute
)

type memoryEntry struct {
	ctx     Context
	expires time.Time
}

// Cache is a TTL store for pending call contexts. Redis is the primary
// backend so contexts survive restarts and multi-instance deployments;
// when Redis is absent or failing the cache degrades to process-local
// storage rather than refusing calls.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger

	mu       sync.Mutex
	fallback map[string]memoryEntry
}

// New builds a cache. rdb may be nil for single-instance deployments and
// tests; ttl <= 0 selects DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		rdb:      rdb,
		ttl:      ttl,
		log:      log,
		fallback: map[string]memoryEntry{},
	}
}

// Put stores the context under id. Storage never fails outright: a Redis
// error is logged and the context lands in the local fallback.
func (c *Cache) Put(ctx context.Context, id string, cc Context) {
	if c.rdb != nil {
		data, err := json.Marshal(cc)
		if err == nil {
			if err = c.rdb.Set(ctx, keyPrefix+id, data, c.ttl).Err(); err == nil {
				return
			}
		}
		c.log.Warn("redis context store failed, using local fallback", "context_id", id, "err", err)
	}
	c.putLocal(id, cc)
}

// Get retrieves the context stored under id. The second return is false
// when no live context exists.
func (c *Cache) Get(ctx context.Context, id string) (Context, bool) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, keyPrefix+id).Bytes()
		switch {
		case err == nil:
			var cc Context
			if err := json.Unmarshal(data, &cc); err != nil {
				c.log.Warn("stored context is corrupt", "context_id", id, "err", err)
				return Context{}, false
			}
			return cc, true
		case err == redis.Nil:
			// Fall through to the local store: the context may have been
			// written there during a Redis outage.
		default:
			c.log.Warn("redis context fetch failed, trying local fallback", "context_id", id, "err", err)
		}
	}
	return c.getLocal(id)
}

// Delete removes a consumed context so a stale TwiML retry cannot start a
// second session from it.
func (c *Cache) Delete(ctx context.Context, id string) {
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
			c.log.Warn("redis context delete failed", "context_id", id, "err", err)
		}
	}
	c.mu.Lock()
	delete(c.fallback, id)
	c.mu.Unlock()
}

func (c *Cache) putLocal(id string, cc Context) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.fallback {
		if now.After(e.expires) {
			delete(c.fallback, k)
		}
	}
	c.fallback[id] = memoryEntry{ctx: cc, expires: now.Add(c.ttl)}
}

func (c *Cache) getLocal(id string) (Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.fallback[id]
	if !ok {
		return Context{}, false
	}
	if time.Now().After(e.expires) {
		delete(c.fallback, id)
		return Context{}, false
	}
	return e.ctx, true
}
