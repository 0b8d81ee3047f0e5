package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// keyedLimiters is a TTL-swept map of per-key token-bucket limiters.
type keyedLimiters struct {
	mu        sync.Mutex
	items     map[string]*limiterEntry
	ttl       time.Duration
	lastSweep time.Time
}

func newKeyedLimiters(ttl time.Duration) *keyedLimiters {
	return &keyedLimiters{items: make(map[string]*limiterEntry), ttl: ttl}
}

func (c *keyedLimiters) get(key string, rps, burst int) *rate.Limiter {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	c.items[key] = &limiterEntry{lim: lim, lastSeen: now}

	if c.lastSweep.IsZero() || now.Sub(c.lastSweep) > 2*time.Minute {
		c.sweepLocked(now)
	}
	return lim
}

func (c *keyedLimiters) sweepLocked(now time.Time) {
	for k, e := range c.items {
		if now.Sub(e.lastSeen) > c.ttl {
			delete(c.items, k)
		}
	}
	c.lastSweep = now
}

// RateLimiter returns a per-API-key token-bucket limiter, falling back to
// client IP for unauthenticated requests. A request over the limit gets
// 429 before it reaches the entry gate.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	limiters := newKeyedLimiters(15 * time.Minute)

	return func(c *gin.Context) {
		key := apiKeyFromContext(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiters.get(key, rps, burst).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"message": "rate limit exceeded", "type": "rate_limit_error"},
			})
			return
		}
		c.Next()
	}
}

func apiKeyFromContext(c *gin.Context) string {
	if v, ok := c.Get("api_key"); ok {
		if s, _ := v.(string); s != "" {
			return s
		}
	}
	return strings.TrimSpace(c.GetHeader("x-api-key"))
}
