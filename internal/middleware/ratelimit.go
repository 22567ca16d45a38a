// Package middleware holds gin middleware for harbormaster's unmetered
// surfaces. The account endpoints take anonymous traffic straight into
// bcrypt and Postgres, so they sit behind a per-IP token bucket that is
// independent of the gate's free-tier accounting.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"harbormaster/pkg/logging"
	"harbormaster/pkg/models"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig configures the per-IP rate limiter.
type RateLimitConfig struct {
	// Logger for rate limit events
	Logger logging.Logger
	// CleanupInterval is how often to clean up expired entries (default: 1 minute)
	CleanupInterval time.Duration
}

// RateLimiter implements a token-bucket limiter keyed by client IP.
type RateLimiter struct {
	config  RateLimitConfig
	buckets sync.Map // map[clientIP]*tokenBucket
	stopCh  chan struct{}
}

// tokenBucket tracks request counts for one client
type tokenBucket struct {
	mu          sync.Mutex
	tokens      float64   // Current available tokens
	lastUpdate  time.Time // Last time tokens were updated
	limit       int       // Requests per minute
	burst       int       // Burst allowance
	lastRequest time.Time // For cleanup
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	rl := &RateLimiter{
		config: config,
		stopCh: make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanupLoop()

	return rl
}

// Stop stops the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// cleanupLoop periodically removes stale buckets
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup removes buckets that haven't been used in 5 minutes
func (rl *RateLimiter) cleanup() {
	threshold := time.Now().Add(-5 * time.Minute)
	rl.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*tokenBucket) //nolint:errcheck // type guaranteed by sync.Map usage
		bucket.mu.Lock()
		if bucket.lastRequest.Before(threshold) {
			bucket.mu.Unlock()
			rl.buckets.Delete(key)
		} else {
			bucket.mu.Unlock()
		}
		return true
	})
}

// Allow checks if a request is allowed for the given client.
// Returns: allowed, remaining tokens, reset time (seconds until bucket refills).
// Non-positive limits disable the limiter; the request passes unmetered.
func (rl *RateLimiter) Allow(clientIP string, limit, burst int) (allowed bool, remaining int, resetSeconds int) {
	if limit <= 0 || burst <= 0 {
		return true, 0, 0
	}

	// Get or create bucket for client
	bucketI, _ := rl.buckets.LoadOrStore(clientIP, &tokenBucket{
		tokens:      float64(limit + burst), // Start with full bucket
		lastUpdate:  time.Now(),
		limit:       limit,
		burst:       burst,
		lastRequest: time.Now(),
	})
	bucket := bucketI.(*tokenBucket) //nolint:errcheck // type guaranteed by sync.Map usage

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	bucket.lastRequest = now

	// Update limit/burst if changed
	if bucket.limit != limit || bucket.burst != burst {
		bucket.limit = limit
		bucket.burst = burst
	}

	// Calculate tokens to add since last update (token bucket algorithm)
	// Rate: limit tokens per minute = limit/60 tokens per second
	elapsed := now.Sub(bucket.lastUpdate).Seconds()
	tokensToAdd := elapsed * float64(limit) / 60.0
	bucket.tokens += tokensToAdd
	bucket.lastUpdate = now

	// Cap tokens at limit + burst
	maxTokens := float64(limit + burst)
	if bucket.tokens > maxTokens {
		bucket.tokens = maxTokens
	}

	// Check if we have tokens available
	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		remaining = int(bucket.tokens)
		// Calculate reset time (time until bucket is full again)
		tokensNeeded := maxTokens - bucket.tokens
		resetSeconds = int(tokensNeeded * 60.0 / float64(limit))
		return true, remaining, resetSeconds
	}

	// Rate limited - calculate when tokens will be available
	tokensNeeded := 1.0 - bucket.tokens
	secondsUntilToken := tokensNeeded * 60.0 / float64(limit)
	resetSeconds = int(secondsUntilToken) + 1

	return false, 0, resetSeconds
}

// PerIPLimit applies the limiter to each client IP. Exhausted callers get
// 429 with Retry-After; every response carries the X-RateLimit headers.
func PerIPLimit(rl *RateLimiter, limit, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, resetSeconds := rl.Allow(c.ClientIP(), limit, burst)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetSeconds))

		if !allowed {
			if rl.config.Logger != nil {
				rl.config.Logger.WithFields(logging.Fields{
					"client_ip":     c.ClientIP(),
					"limit":         limit,
					"reset_seconds": resetSeconds,
					"path":          c.Request.URL.Path,
				}).Warn("Rate limit exceeded")
			}
			c.Header("Retry-After", strconv.Itoa(resetSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.APIError{
				Error:   "rate_limit_exceeded",
				Message: "Too many requests. Please retry after the specified time.",
				Status:  http.StatusTooManyRequests,
			})
			return
		}

		c.Next()
	}
}
