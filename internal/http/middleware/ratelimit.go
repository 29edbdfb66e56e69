package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc maps a request to the identity that owns its token bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by the authenticated user when Auth resolved
// one, falling back to the client IP. Prefixes keep the two namespaces
// from colliding.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id, authed := IdentityFrom(c); authed && id.UserID != "" {
			return "user:" + id.UserID
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token-bucket limiter with one bucket per
// identity. It fronts the whole API but exists mainly to shield the
// assistant endpoint, where every request costs provider money; the daily
// assistant quota is a separate service-layer concern. Process-local is
// fine for the single-node SQLite deployment — a scaled-out deployment
// would need a shared limiter.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   keyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	ttl     time.Duration
	lookups uint64
}

// Idle buckets are swept after this many lookups to bound memory.
const sweepEvery = 5000

// NewRateLimiter builds a limiter replenishing rps tokens per second with
// the given burst (coerced to at least 1), keyed by keyFn.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
	}
}

// bucketFor returns the limiter for key, creating it on first sight.
// The idle sweep runs before the fetch so a stale bucket is evicted even
// when it is the one being requested.
func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, seen := rl.buckets[key]; seen {
		b.lastSeen = now
		return b.limiter
	}
	b := &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst), lastSeen: now}
	rl.buckets[key] = b
	return b.limiter
}

// IsRateBypass reports whether IdempotencyValidator flagged this request
// as a replay; replays are served without consuming tokens.
func IsRateBypass(c *gin.Context) bool {
	v, found := c.Get(ctxKeyRateBypass)
	if !found {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the per-key limit, answering 429 with the standard
// envelope and a minimal Retry-After when the bucket is empty.
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
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
