// Nexus Core - Authentication and Authorization Service
//
// This is the main entry point for the Nexus Core application.
// Nexus Core guards API access for multi-tenant deployments:
//   - JWT access/refresh token lifecycle with cache-backed revocation
//   - Device-bound sessions derived from User-Agent fingerprints
//   - Optional two-factor authentication (TOTP with cached fallback codes)
//   - Team-scoped role and permission checks
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nexus-stack/nexus-core/migrations"

	"github.com/nexus-stack/nexus-core/internal/api"
	"github.com/nexus-stack/nexus-core/internal/guard"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/cache"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/config"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/database"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/logging"
	"github.com/nexus-stack/nexus-core/internal/session"
	"github.com/nexus-stack/nexus-core/internal/store"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Nexus Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "env", cfg.Server.Env)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect the token cache. Redis is required for multi-instance
	// deployments; the in-process store only sees its own revocations.
	var (
		cacheStore cache.Store
		redisStore *cache.RedisStore
	)
	if cfg.Cache.Redis.Enabled {
		redisStore, err = cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisStore.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		cacheStore = redisStore
		log.Info("Redis connected", "addr", cfg.Cache.Redis.Addr)
	} else {
		cacheStore = cache.NewMemoryStore()
		log.Warn("Redis disabled, using in-process token cache")
	}
	keys := cache.NewKeyer(cfg.Server.Env)

	// Wire repositories and seed the initial owner account
	repos := store.NewRepositories(db.DB)
	if _, seedErr := store.SeedOwner(ctx, repos, guard.HashPassword, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding owner account: %w", seedErr)
	}

	// Assemble the admission pipeline
	tokens := guard.NewTokenService(cacheStore, keys, guard.TokenOptions{
		AccessSecret:  cfg.Security.JWT.AccessSecret,
		RefreshSecret: cfg.Security.JWT.RefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL(),
		RefreshTTL:    cfg.RefreshTokenTTL(),
	})
	devices := guard.NewDeviceRegistry(repos.Devices, log.Logger)
	twofa := guard.NewTwoFactor(cacheStore, keys)
	gate := guard.NewGate(tokens, repos.Users, devices, twofa, log.Logger)

	sessions := session.NewService(repos, tokens, devices, twofa, cacheStore, keys,
		session.NewLogNotifier(log.Logger),
		session.Options{
			MinPasswordLength: cfg.Security.Password.MinLength,
			ResetOTPTTL:       time.Duration(cfg.Security.Reset.OTPTTL) * time.Minute,
			ResetTokenTTL:     time.Duration(cfg.Security.Reset.TokenTTL) * time.Minute,
		},
		log.Logger,
	)

	// Start the HTTP API
	srv, err := api.New(api.Deps{
		Config:   cfg.Server,
		Logger:   log,
		Gate:     gate,
		Sessions: sessions,
		Repos:    repos,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, srv); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (graceful drain)
	// 2. Redis (if enabled)
	// 3. Database

	log.Info("Nexus Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NEXUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NEXUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheckTimeout bounds the startup health verification.
const healthCheckTimeout = 5 * time.Second

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, srv *api.Server) error {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := srv.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	return nil
}
