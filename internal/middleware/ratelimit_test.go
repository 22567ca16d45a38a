package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func TestRateLimiterAllowInvalidLimits(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	defer rl.Stop()

	allowed, remaining, reset := rl.Allow("198.51.100.7", 0, 0)
	if !allowed {
		t.Fatal("expected request to be allowed with limits disabled")
	}
	if remaining != 0 || reset != 0 {
		t.Fatalf("expected zero remaining/reset, got %d/%d", remaining, reset)
	}
}

func TestRateLimiterAllowAndBlock(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	defer rl.Stop()

	allowed, _, _ := rl.Allow("198.51.100.7", 1, 1)
	if !allowed {
		t.Fatal("expected first request to be allowed")
	}
	allowed, _, _ = rl.Allow("198.51.100.7", 1, 1)
	if !allowed {
		t.Fatal("expected second request to be allowed")
	}
	allowed, _, reset := rl.Allow("198.51.100.7", 1, 1)
	if allowed {
		t.Fatal("expected third request to be rate limited")
	}
	if reset <= 0 {
		t.Fatalf("expected reset seconds > 0, got %d", reset)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	defer rl.Stop()

	rl.Allow("198.51.100.7", 10, 5)
	bucketI, ok := rl.buckets.Load("198.51.100.7")
	if !ok {
		t.Fatal("expected bucket to exist")
	}
	bucket := bucketI.(*tokenBucket)
	bucket.mu.Lock()
	bucket.lastRequest = time.Now().Add(-6 * time.Minute)
	bucket.mu.Unlock()

	rl.cleanup()
	if _, ok := rl.buckets.Load("198.51.100.7"); ok {
		t.Fatal("expected bucket to be removed after cleanup")
	}
}

func newLimitedRouter(rl *RateLimiter, limit, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/auth/login", PerIPLimit(rl, limit, burst), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = addr
	return req
}

func TestPerIPLimitBlocksAfterBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Logger: logrus.New()})
	defer rl.Stop()
	router := newLimitedRouter(rl, 1, 1)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, requestFrom("203.0.113.5:4000"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d = %d, want 200", i+1, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") == "" {
			t.Fatalf("request %d missing rate limit headers", i+1)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, requestFrom("203.0.113.5:4000"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on rate limited response")
	}
}

func TestPerIPLimitIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	defer rl.Stop()
	router := newLimitedRouter(rl, 1, 1)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, requestFrom("203.0.113.5:4000"))
		_ = w
	}

	// A different address gets its own bucket.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, requestFrom("203.0.113.6:4000"))
	if w.Code != http.StatusOK {
		t.Fatalf("fresh client = %d, want 200", w.Code)
	}
}
