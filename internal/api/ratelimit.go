package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────
// Per-Source Token Bucket Rate Limiter
//
// Uses stdlib only — no external dependency.
//
// Each evaluation caller — keyed by client IP, since an AI agent's
// runtime wrapper is the one actually dialing the HTTP surface, not the
// agent itself — gets its own bucket with a configurable capacity and
// refill rate. When the bucket is empty the request receives HTTP 429
// with a Retry-After header indicating when to try again. A flooded
// /evaluate endpoint is itself a signal worth denying fast rather than
// running the full nine-stage pipeline against.
//
// A background goroutine cleans up buckets that have been idle for more
// than cleanupIdleDuration to prevent unbounded memory growth from
// transient callers.
// ──────────────────────────────────────────────────────────────────────

const cleanupIdleDuration = 10 * time.Minute

type evaluationBucket struct {
	tokens   float64
	lastSeen time.Time
	mu       sync.Mutex
}

// EvaluationRateLimiter throttles calls into the evaluation endpoints,
// one token bucket per source.
type EvaluationRateLimiter struct {
	rate    float64 // tokens added per second
	burst   float64 // max bucket capacity
	mu      sync.Mutex
	buckets map[string]*evaluationBucket
}

// NewRateLimiter creates a rate limiter allowing `ratePerMin` evaluation
// requests per minute per source, with a burst capacity of `burst`
// requests.
func NewRateLimiter(ratePerMin, burst int) *EvaluationRateLimiter {
	rl := &EvaluationRateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		buckets: make(map[string]*evaluationBucket),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *EvaluationRateLimiter) allow(source string) (bool, time.Duration) {
	rl.mu.Lock()
	bucket, ok := rl.buckets[source]
	if !ok {
		bucket = &evaluationBucket{tokens: rl.burst}
		rl.buckets[source] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	// Refill tokens based on elapsed time since last request.
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}

	// Calculate how long until a token is available.
	retryAfter := time.Duration((1.0-bucket.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// Middleware returns a Gin handler that enforces the rate limit against
// Wardex's evaluation and policy-mutation surface.
func (rl *EvaluationRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.ClientIP()
		allowed, retryAfter := rl.allow(source)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "evaluation rate limit exceeded",
				"retryAfter": retryAfter.String(),
				"limit":      int(rl.rate * 60),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cleanupLoop removes stale source buckets every cleanupIdleDuration.
func (rl *EvaluationRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for source, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, source)
			}
		}
		rl.mu.Unlock()
	}
}
