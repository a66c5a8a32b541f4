// Package main is the entry point for the permit registry server binary.
// It dispatches four subcommands — serve, migrate, scan, and version — via a
// simple switch on os.Args so the binary's full CLI surface is readable in one
// place without requiring a cobra dependency. The serve command runs
// auto-migration on startup so freshly deployed containers never need a
// separate migration step; scan runs a single expiry scan and exits, which is
// what a cron-style deployment without the resident server uses.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/parkeerbeheer/permit-registry/internal/api"
	"github.com/parkeerbeheer/permit-registry/internal/audit"
	"github.com/parkeerbeheer/permit-registry/internal/auth"
	"github.com/parkeerbeheer/permit-registry/internal/claim"
	"github.com/parkeerbeheer/permit-registry/internal/config"
	"github.com/parkeerbeheer/permit-registry/internal/db"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/jobs"
	"github.com/parkeerbeheer/permit-registry/internal/notify"
	"github.com/parkeerbeheer/permit-registry/internal/telemetry"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Execute command
	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "scan":
		return runScan(cfg)
	case "version":
		fmt.Printf("Permit Registry v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, scan, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Validate JWT secret configuration (fails in production if not set)
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	log.Println("JWT secret validated successfully")

	// Debug: Print database configuration (mask password)
	maskedPassword := "****"
	if cfg.Database.Password != "" {
		maskedPassword = cfg.Database.Password[:1] + "****"
	}
	log.Printf("Database config: host=%s, port=%d, user=%s, password=%s, dbname=%s, sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, maskedPassword,
		cfg.Database.Name, cfg.Database.SSLMode)

	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Println("Connected to database successfully")

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	// Run migrations automatically on startup
	log.Println("Running database migrations...")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Database migrations completed successfully")

	schemaVersion, dirty, err := db.MigrationVersion(database)
	if err != nil {
		log.Printf("Warning: failed to get migration version: %v", err)
	} else {
		log.Printf("Database schema version: %d (dirty: %v)", schemaVersion, dirty)
	}

	// Seed the initial admin account when the users table is empty. The
	// account is flagged for a forced password change so the seed password
	// never survives past first login.
	if err := seedInitialAdmin(cfg, database); err != nil {
		return fmt.Errorf("failed to seed initial admin: %w", err)
	}

	// Optional Redis connection: shared claim store and rate-limit budget
	// across replicas. Without it both fall back to in-process state.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Address, err)
		}
		defer redisClient.Close()
		log.Printf("Connected to Redis at %s", cfg.Redis.Address)
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not reachable
	// through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Create router
	router, bgServices := api.NewRouter(cfg, database, redisClient)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s", cfg.Server.GetAddress())
		log.Printf("Notifications enabled: %v (channels: %v)", cfg.Notifications.Enabled, cfg.Notifications.Channels)
		log.Println("Server is ready to accept connections")

		var err error
		if cfg.Security.TLS.Enabled {
			log.Printf("TLS enabled: cert=%s, key=%s", cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs and rate limiter goroutines
	bgServices.Shutdown()

	log.Println("Server stopped gracefully")
	return nil
}

// seedInitialAdmin creates the first admin account when the users table is
// empty. The password comes from auth.initial_admin_password (or
// PBR_AUTH_INITIAL_ADMIN_PASSWORD); if none is configured the seed is skipped
// and the deployment has no way to log in, so we fail loudly instead.
func seedInitialAdmin(cfg *config.Config, database *sql.DB) error {
	userRepo := repositories.NewUserRepository(database)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := userRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	if cfg.Auth.InitialAdminPassword == "" {
		return fmt.Errorf("users table is empty and auth.initial_admin_password is not set")
	}

	hash, err := auth.HashPassword(cfg.Auth.InitialAdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash initial admin password: %w", err)
	}

	admin := &models.User{
		Username:            "admin",
		Name:                "Administrator",
		PasswordHash:        hash,
		Role:                models.RoleAdmin,
		Active:              true,
		ForcePasswordChange: true,
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create initial admin: %w", err)
	}

	log.Println("Seeded initial admin account (username: admin); password change required on first login")
	return nil
}

// runScan performs a single expiry scan against the configured database and
// exits. Intended for cron-style deployments that do not run the resident
// server process.
func runScan(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if !cfg.Notifications.Enabled {
		return fmt.Errorf("notifications are disabled (notifications.enabled=false)")
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	sqlxDB := sqlx.NewDb(database, "postgres")
	recordRepo := repositories.NewRecordRepository(database)
	auditRepo := repositories.NewAuditRepository(sqlxDB)
	recorder := audit.NewRecorder(auditRepo, cfg.Audit.WriteRetries, slog.Default())

	channels, err := notify.BuildChannels(&cfg.Notifications)
	if err != nil {
		return fmt.Errorf("failed to build notification channels: %w", err)
	}
	dispatcher := notify.NewDispatcher(channels, cfg.Notifications.ChannelTimeout)

	claimTTL := cfg.Notifications.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = claim.DefaultTTL
	}
	var claimer claim.Claimer
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		claimer = claim.NewRedisClaimer(redisClient, claimTTL)
	} else {
		claimer = claim.NewMemoryClaimer(claimTTL)
	}

	scanner := jobs.NewExpiryScanner(recordRepo, dispatcher, claimer, recorder, &cfg.Notifications, slog.Default())

	log.Println("Running one-shot expiry scan...")
	scanner.RunOnce(context.Background(), time.Now())
	log.Println("Expiry scan completed")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	// Run migrations
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Get current version
	schemaVersion, dirty, err := db.MigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", schemaVersion, dirty)
	return nil
}
