// Token-bucket rate limiting keyed by caller identity.
//
// The limiter is process-local: one bucket per user (falling back to client
// IP), created lazily and evicted after sitting idle. That is the right
// scope for a single-node deployment; a horizontally scaled fleet would
// need a shared backend to enforce a global budget.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc maps a request to the identity string that owns its bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by the authenticated user when the context
// carries one, otherwise by client IP. Keys are namespaced ("user:",
// "ip:") so a user id can never collide with an address.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket pairs a limiter with its last activity, for idle eviction.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const (
	// bucketIdleTTL is how long an untouched bucket survives.
	bucketIdleTTL = 10 * time.Minute
	// sweepEvery is the lookup count between eviction sweeps.
	sweepEvery = 5000
)

// RateLimiter hands out per-identity token buckets. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups uint64
}

// NewRateLimiter builds a limiter replenishing rps tokens per second with
// the given burst capacity (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
	}
}

// bucketFor returns the limiter for key, creating it on first sight.
// Eviction runs before the lookup so a stale bucket for this very key is
// replaced rather than refreshed.
func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= bucketIdleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.lim
	}
	b := &bucket{lim: rate.NewLimiter(rl.rps, rl.burst), lastSeen: now}
	rl.buckets[key] = b
	return b.lim
}

// IsRateBypass reports whether the idempotency layer marked this request as
// a replay of an already-completed one. Replays skip limiting; serving the
// stored result costs nothing worth charging for.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the enforcing middleware. Over-limit requests get a 429
// with the standard error envelope and a Retry-After hint.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if rl.bucketFor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
