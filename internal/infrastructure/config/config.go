package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Nexus Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Env is the deployment environment name (development, staging,
	// production). It namespaces every cache key, so two environments can
	// safely share a cache instance.
	Env      string              `yaml:"env"`
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	Timeouts ServerTimeoutConfig `yaml:"timeouts"`
}

// ServerTimeoutConfig contains HTTP timeout settings (seconds).
type ServerTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// CacheConfig contains token-cache settings.
//
// When Redis.Enabled is false the process falls back to an in-process cache,
// which is only suitable for single-instance deployments and tests.
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Password PasswordConfig `yaml:"password"`
	Reset    ResetConfig    `yaml:"reset"`
}

// JWTConfig contains signing secrets and token lifetimes.
// Access and refresh tokens use separate secrets so a leaked refresh
// secret cannot mint access tokens.
type JWTConfig struct {
	AccessSecret    string `yaml:"access_secret"`
	RefreshSecret   string `yaml:"refresh_secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`  // minutes
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"` // minutes
}

// PasswordConfig contains password policy settings.
type PasswordConfig struct {
	MinLength int `yaml:"min_length"`
}

// ResetConfig contains password-reset flow settings.
type ResetConfig struct {
	OTPTTL   int `yaml:"otp_ttl"`   // minutes the emailed OTP stays valid
	TokenTTL int `yaml:"token_ttl"` // minutes the reset token stays valid
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NEXUS_SECTION_KEY
// For example: NEXUS_DATABASE_PATH, NEXUS_JWT_ACCESS_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Env:  "development",
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/nexus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Cache: CacheConfig{
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "localhost:6379",
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  15,
				RefreshTokenTTL: 1440,
			},
			Password: PasswordConfig{
				MinLength: 8,
			},
			Reset: ResetConfig{
				OTPTTL:   10,
				TokenTTL: 15,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NEXUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("NEXUS_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("NEXUS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NEXUS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Database
	if v := os.Getenv("NEXUS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Cache
	if v := os.Getenv("NEXUS_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Enabled = true
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("NEXUS_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}

	// Security - signing secrets (IMPORTANT: always override in production)
	if v := os.Getenv("NEXUS_JWT_ACCESS_SECRET"); v != "" {
		cfg.Security.JWT.AccessSecret = v
	}
	if v := os.Getenv("NEXUS_JWT_REFRESH_SECRET"); v != "" {
		cfg.Security.JWT.RefreshSecret = v
	}
}

// minSecretLength is the minimum accepted JWT secret length.
// Short secrets make HS256 tokens brute-forceable offline.
const minSecretLength = 32

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Env == "" {
		errs = append(errs, "server.env is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch {
	case c.Security.JWT.AccessSecret == "":
		errs = append(errs, "security.jwt.access_secret is required (set NEXUS_JWT_ACCESS_SECRET environment variable)")
	case len(c.Security.JWT.AccessSecret) < minSecretLength:
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}
	switch {
	case c.Security.JWT.RefreshSecret == "":
		errs = append(errs, "security.jwt.refresh_secret is required (set NEXUS_JWT_REFRESH_SECRET environment variable)")
	case len(c.Security.JWT.RefreshSecret) < minSecretLength:
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}
	if c.Security.JWT.AccessSecret != "" && c.Security.JWT.AccessSecret == c.Security.JWT.RefreshSecret {
		errs = append(errs, "security.jwt access and refresh secrets must differ")
	}

	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL <= c.Security.JWT.AccessTokenTTL {
		errs = append(errs, "security.jwt.refresh_token_ttl must exceed access_token_ttl")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the server read timeout as a Duration.
func (c ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the server write timeout as a Duration.
func (c ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the server idle timeout as a Duration.
func (c ServerConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// AccessTokenTTL returns the access token lifetime as a Duration.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime as a Duration.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.RefreshTokenTTL) * time.Minute
}
