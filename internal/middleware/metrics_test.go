package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkeerbeheer/permit-registry/internal/telemetry"
)

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/api/v1/records/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(
		telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/records/:id", "200"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/records/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)

	after := testutil.ToFloat64(
		telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/records/:id", "200"))
	assert.Equal(t, before+1, after)
}

func TestMetricsMiddlewareUnmatchedRoute(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())

	before := testutil.ToFloat64(
		telemetry.HTTPRequestsTotal.WithLabelValues("GET", "<no-route>", "404"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	after := testutil.ToFloat64(
		telemetry.HTTPRequestsTotal.WithLabelValues("GET", "<no-route>", "404"))
	assert.Equal(t, before+1, after)
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeadersMiddleware(APISecurityHeadersConfig()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
}
