// Package api wires together all HTTP routes for the permit registry.
//
// Route grouping:
//   - /health and /version are unauthenticated so load balancers and probes
//     can reach them without credentials.
//   - /api/v1/auth/login is unauthenticated but rate limited more strictly
//     than the rest of the API to slow down brute-force attempts.
//   - Everything else under /api/v1/ requires a valid session token; write
//     routes additionally require the editor or admin role.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/parkeerbeheer/permit-registry/internal/audit"
	"github.com/parkeerbeheer/permit-registry/internal/claim"
	"github.com/parkeerbeheer/permit-registry/internal/config"
	"github.com/parkeerbeheer/permit-registry/internal/conflict"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/jobs"
	"github.com/parkeerbeheer/permit-registry/internal/middleware"
	"github.com/parkeerbeheer/permit-registry/internal/notify"
	"github.com/parkeerbeheer/permit-registry/internal/safego"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	scanner      *jobs.ExpiryScanner
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.scanner != nil {
		bg.scanner.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. redisClient may be nil;
// the claim store and rate limiter then fall back to their in-process
// implementations.
func NewRouter(cfg *config.Config, db *sql.DB, redisClient *redis.Client) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories. The audit repository uses sqlx for its aggregation
	// queries; the others work on the plain handle.
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(db)
	recordRepo := repositories.NewRecordRepository(db)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	// Engine components
	detector := conflict.NewDetector(recordRepo)
	recorder := audit.NewRecorder(auditRepo, cfg.Audit.WriteRetries, slog.Default())

	channels, err := notify.BuildChannels(&cfg.Notifications)
	if err != nil {
		log.Fatalf("Failed to build notification channels: %v", err)
	}
	dispatcher := notify.NewDispatcher(channels, cfg.Notifications.ChannelTimeout)

	claimTTL := cfg.Notifications.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = claim.DefaultTTL
	}
	var claimer claim.Claimer
	if redisClient != nil {
		claimer = claim.NewRedisClaimer(redisClient, claimTTL)
		slog.Info("using Redis claim store", "ttl", claimTTL)
	} else {
		claimer = claim.NewMemoryClaimer(claimTTL)
		slog.Info("using in-memory claim store", "ttl", claimTTL)
	}

	// Background expiry scanner
	scanner := jobs.NewExpiryScanner(recordRepo, dispatcher, claimer, recorder, &cfg.Notifications, slog.Default())
	safego.Go(func() { scanner.Start(context.Background()) })

	bg := &BackgroundServices{scanner: scanner}

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Rate limiting: one shared budget across replicas when Redis is
	// available, otherwise per-process token buckets.
	var apiLimit, authLimit gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		apiCfg := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			apiCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			apiCfg.BurstSize = cfg.Security.RateLimiting.Burst
		}
		authCfg := middleware.AuthRateLimitConfig()

		if redisClient != nil {
			apiLimit = middleware.RedisRateLimitMiddleware(redisClient, apiCfg)
			authLimit = middleware.RedisRateLimitMiddleware(redisClient, authCfg)
		} else {
			apiLimiter := middleware.NewRateLimiter(apiCfg)
			authLimiter := middleware.NewRateLimiter(authCfg)
			bg.rateLimiters = append(bg.rateLimiters, apiLimiter, authLimiter)
			apiLimit = middleware.RateLimitMiddleware(apiLimiter)
			authLimit = middleware.RateLimitMiddleware(authLimiter)
		}
	} else {
		noop := func(c *gin.Context) { c.Next() }
		apiLimit, authLimit = noop, noop
	}

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Handlers
	authHandlers := NewAuthHandlers(cfg, userRepo, recorder)
	recordHandlers := NewRecordHandlers(recordRepo, detector, recorder)
	notifyHandlers := NewNotifyHandlers(recordRepo, dispatcher, recorder, &cfg.Notifications)
	scanHandlers := NewScanHandlers(scanner)
	auditHandlers := NewAuditHandlers(auditRepo)

	v1 := router.Group("/api/v1")

	// Login is the only unauthenticated API route; stricter limit.
	v1.POST("/auth/login", authLimit, authHandlers.LoginHandler())

	authed := v1.Group("", apiLimit, middleware.AuthMiddleware(userRepo))

	// Password change stays reachable for users flagged with a forced change.
	authed.POST("/auth/password", authHandlers.ChangePasswordHandler())

	app := authed.Group("", middleware.RequirePasswordChanged())
	{
		app.GET("/records", recordHandlers.ListRecordsHandler())
		app.POST("/records", middleware.RequireEditor(), recordHandlers.CreateRecordHandler())
		app.GET("/records/conflicts", recordHandlers.FindConflictsHandler())
		app.GET("/records/:id", recordHandlers.GetRecordHandler())
		app.PUT("/records/:id", middleware.RequireEditor(), recordHandlers.UpdateRecordHandler())
		app.DELETE("/records/:id", middleware.RequireRole(models.RoleAdmin), recordHandlers.DeleteRecordHandler())
		app.POST("/records/:id/test-notification", middleware.RequireEditor(), notifyHandlers.TestNotificationHandler())

		app.POST("/scan", middleware.RequireRole(models.RoleAdmin), scanHandlers.TriggerScanHandler())

		app.GET("/audit", auditHandlers.ListAuditHandler())
		app.GET("/audit/actors", auditHandlers.ActorsHandler())
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
