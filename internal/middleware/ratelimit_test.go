package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiterRouter(limiter *RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(RateLimitMiddleware(limiter))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("client-1"), "request %d within burst should pass", i+1)
	}
	assert.False(t, limiter.Allow("client-1"), "burst exhausted")
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	require.True(t, limiter.Allow("client-1"))
	assert.False(t, limiter.Allow("client-1"))
	assert.True(t, limiter.Allow("client-2"), "other clients keep their own bucket")
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 6000, // 100/s so the test refills quickly
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	require.True(t, limiter.Allow("client-1"))
	require.False(t, limiter.Allow("client-1"))

	time.Sleep(25 * time.Millisecond)
	assert.True(t, limiter.Allow("client-1"), "bucket should refill over time")
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 1,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()
	router := newLimiterRouter(limiter)

	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w1.Code)
	assert.NotEmpty(t, w1.Header().Get("X-RateLimit-Remaining"))

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "60", w2.Header().Get("Retry-After"))
}

func TestRateLimitKeyPrefersUserID(t *testing.T) {
	router := gin.New()
	router.GET("/ping", func(c *gin.Context) {
		c.Set(UserIDKey, "user-1")
		assert.Equal(t, "user:user-1", getRateLimitKey(c))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitKeyFallsBackToIP(t *testing.T) {
	router := gin.New()
	router.GET("/ping", func(c *gin.Context) {
		key := getRateLimitKey(c)
		assert.Contains(t, key, "ip:")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "192.0.2.7:12345"
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
