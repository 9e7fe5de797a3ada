package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN). PostgreSQL URLs select pgdriver,
	// anything else is opened as SQLite.
	DatabaseURL string `yaml:"database_url"`

	// Server bind address (host:port)
	ServerAddr string `yaml:"server_addr"`

	// Public base URL of this process
	ServerURL string `yaml:"server_url"`

	// Base URL of the identity service, used by the datasets side to validate
	// tokens remotely. Empty means identity runs in-process.
	IdentityURL string `yaml:"identity_url"`

	// Base URL of the datasets service, used by the identity side to confirm a
	// dataset exists before granting it. Empty means datasets run in-process.
	DatasetsURL string `yaml:"datasets_url"`

	// HS256 secret for session tokens. Required unless Debug is set.
	JWTSecret string `yaml:"jwt_secret"`

	// Lifetime of issued tokens
	JWTTTL time.Duration `yaml:"jwt_ttl"`

	// Upper bound of a single token validation call
	RPCTimeout time.Duration `yaml:"rpc_timeout"`

	// Redis URL for the event transport. Empty selects the in-process bus.
	RedisURL string `yaml:"redis_url"`

	// Consumer group name shared by replicas of one service
	EventConsumerGroup string `yaml:"event_consumer_group"`

	// Pending entries idle longer than this are reclaimed from dead consumers
	EventClaimIdle time.Duration `yaml:"event_claim_idle"`

	// Number of envelope ids remembered for deduplication
	EventDedupeSize int `yaml:"event_dedupe_size"`

	// Maximum database connection pool size
	MaxDBConnections int `yaml:"max_db_connections"`

	// Set the Secure attribute on the Authentication cookie
	CookieSecure bool `yaml:"cookie_secure"`

	// Allowed CORS origins
	CORSOrigins []string `yaml:"cors_origins"`

	// Login attempts per minute per client address
	LoginRatePerMinute int `yaml:"login_rate_per_minute"`

	// Enable debug logging
	Debug bool `yaml:"debug"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		DatabaseURL:        "file:boxhub.db?cache=shared",
		ServerAddr:         "localhost:8080",
		ServerURL:          "http://localhost:8080",
		JWTTTL:             24 * time.Hour,
		RPCTimeout:         2 * time.Second,
		EventConsumerGroup: "boxhub",
		EventClaimIdle:     time.Minute,
		EventDedupeSize:    10000,
		MaxDBConnections:   25,
		CORSOrigins:        []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		LoginRatePerMinute: 10,
	}
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads an optional YAML file over the defaults, then applies
// environment variables on top. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ServerAddr = getEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.ServerURL = getEnv("SERVER_URL", cfg.ServerURL)
	cfg.IdentityURL = getEnv("IDENTITY_URL", cfg.IdentityURL)
	cfg.DatasetsURL = getEnv("DATASETS_URL", cfg.DatasetsURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTL = getEnvDuration("JWT_TTL", cfg.JWTTTL)
	cfg.RPCTimeout = getEnvDuration("RPC_TIMEOUT", cfg.RPCTimeout)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.EventConsumerGroup = getEnv("EVENT_CONSUMER_GROUP", cfg.EventConsumerGroup)
	cfg.EventClaimIdle = getEnvDuration("EVENT_CLAIM_IDLE", cfg.EventClaimIdle)
	cfg.EventDedupeSize = getEnvInt("EVENT_DEDUPE_SIZE", cfg.EventDedupeSize)
	cfg.MaxDBConnections = getEnvInt("MAX_DB_CONNECTIONS", cfg.MaxDBConnections)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", cfg.CookieSecure)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.LoginRatePerMinute = getEnvInt("LOGIN_RATE_PER_MINUTE", cfg.LoginRatePerMinute)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DebugSecret signs tokens when DEBUG is set and no JWT_SECRET is given.
const DebugSecret = "boxhub-debug-secret"

// Validate checks required fields. In debug mode a missing JWT secret falls
// back to DebugSecret.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.ServerAddr == "" {
		return errors.New("SERVER_ADDR is required")
	}
	if c.JWTSecret == "" {
		if !c.Debug {
			return errors.New("JWT_SECRET is required unless DEBUG is set")
		}
		c.JWTSecret = DebugSecret
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC_TIMEOUT must be positive, got %s", c.RPCTimeout)
	}
	if c.EventDedupeSize <= 0 {
		return fmt.Errorf("EVENT_DEDUPE_SIZE must be positive, got %d", c.EventDedupeSize)
	}
	if c.LoginRatePerMinute <= 0 {
		return fmt.Errorf("LOGIN_RATE_PER_MINUTE must be positive, got %d", c.LoginRatePerMinute)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration parses a Go duration such as "90s" or "1h30m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
