// Package config provides configuration management and environment variable handling for the application
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Tracking   TrackingConfig   `json:"tracking"`
	Send       SendConfig       `json:"send"`
	Sweep      SweepConfig      `json:"sweep"`
	Events     EventsConfig     `json:"events"`
	Sentry     SentryConfig     `json:"sentry"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// DSN returns the postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	// StreamHeartbeat is the push stream keep-alive interval
	StreamHeartbeat time.Duration `json:"stream_heartbeat"`
}

// Address returns host:port for the listener
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`

	// Rate Limiting, requests per minute per IP
	APIRateLimit   int `json:"api_rate_limit"`
	TrackRateLimit int `json:"track_rate_limit"`
}

type JWTConfig struct {
	SecretKey           string        `json:"secret_key"`
	PrivateKey          string        `json:"private_key"`  // RSA private key in PEM format
	PublicKey           string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys          bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	AccessTokenTTL      time.Duration `json:"access_token_ttl"`
	UnsubscribeTokenTTL time.Duration `json:"unsubscribe_token_ttl"`
	Issuer              string        `json:"issuer"`
	Audience            string        `json:"audience"`
}

type LoggingConfig struct {
	Level        string `json:"level"`  // debug, info, warn, error
	Format       string `json:"format"` // json, text
	Output       string `json:"output"` // stdout, file, both
	FilePath     string `json:"file_path"`
	MaxSize      int    `json:"max_size"` // MB
	MaxBackups   int    `json:"max_backups"`
	MaxAge       int    `json:"max_age"` // days
	Compress     bool   `json:"compress"`
	EnableCaller bool   `json:"enable_caller"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled        bool          `json:"enabled"`
	RedisURL       string        `json:"redis_url"`
	RedisDB        int           `json:"redis_db"`
	LinkTTL        time.Duration `json:"link_ttl"`
	HealthInterval time.Duration `json:"health_interval"`
}

type TrackingConfig struct {
	// PublicOrigin is the externally reachable base URL used in beacons, redirects and unsubscribe links
	PublicOrigin       string        `json:"public_origin"`
	DefaultLandingURL  string        `json:"default_landing_url"`
	GeoEndpoint        string        `json:"geo_endpoint"`
	GeoTimeout         time.Duration `json:"geo_timeout"`
	SignatureFile      string        `json:"signature_file"`
	WebhookTimeout     time.Duration `json:"webhook_timeout"`
	PoolWorkers        int           `json:"pool_workers"`
	PoolQueueSize      int           `json:"pool_queue_size"`
	PoolTaskTimeout    time.Duration `json:"pool_task_timeout"`
	PoolShutdownWindow time.Duration `json:"pool_shutdown_window"`
}

type SendConfig struct {
	RateWindow       time.Duration `json:"rate_window"`
	RateMax          int           `json:"rate_max"`
	FreeMonthlyLimit int64         `json:"free_monthly_limit"`
	SMTPHost         string        `json:"smtp_host"`
	SMTPPort         int           `json:"smtp_port"`
	SMTPUsername     string        `json:"smtp_username"`
	SMTPPassword     string        `json:"smtp_password"`
	FromAddress      string        `json:"from_address"`
	// SecretBoxKey is the base64 key that seals owner relay passwords
	SecretBoxKey string `json:"-"`
}

type SweepConfig struct {
	Secret            string        `json:"-"`
	ScheduledBatch    int           `json:"scheduled_batch"`
	SequenceBatch     int           `json:"sequence_batch"`
	ClaimLease        time.Duration `json:"claim_lease"`
	Timeout           time.Duration `json:"timeout"`
	SchedulerEnabled  bool          `json:"scheduler_enabled"`
	ScheduledInterval time.Duration `json:"scheduled_interval"`
	SequencesInterval time.Duration `json:"sequences_interval"`
	RequireCronSecret bool          `json:"require_cron_secret"`
}

type EventsConfig struct {
	NATSURL       string `json:"nats_url"`
	SubjectPrefix string `json:"subject_prefix"`
}

type SentryConfig struct {
	DSN         string  `json:"-"`
	SampleRate  float64 `json:"sample_rate"`
	Environment string  `json:"environment"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfig reads the environment (and .env when present) without validating it
func LoadConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	env := getEnvString("APP_ENV", "production")

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "trakpilot"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			StreamHeartbeat: getEnvDuration("STREAM_HEARTBEAT", 10*time.Second),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"https://app.trakpilot.io"}),
			APIRateLimit:   getEnvInt("API_RATE_LIMIT", 600),
			TrackRateLimit: getEnvInt("TRACK_RATE_LIMIT", 6000),
		},
		JWT: JWTConfig{
			SecretKey:           getEnvString("JWT_SECRET_KEY", ""),
			PrivateKey:          getEnvString("JWT_PRIVATE_KEY", ""),
			PublicKey:           getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys:          getEnvBool("JWT_USE_RSA_KEYS", false),
			AccessTokenTTL:      getEnvDuration("JWT_ACCESS_TOKEN_TTL", 24*time.Hour),
			UnsubscribeTokenTTL: getEnvDuration("JWT_UNSUBSCRIBE_TOKEN_TTL", 365*24*time.Hour),
			Issuer:              getEnvString("JWT_ISSUER", "trakpilot"),
			Audience:            getEnvString("JWT_AUDIENCE", "trakpilot-api"),
		},
		Logging: LoggingConfig{
			Level:        getEnvString("LOG_LEVEL", "info"),
			Format:       getEnvString("LOG_FORMAT", "json"),
			Output:       getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:     getEnvString("LOG_FILE_PATH", "/var/log/trakpilot/app.log"),
			MaxSize:      getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:   getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:       getEnvInt("LOG_MAX_AGE", 30),
			Compress:     getEnvBool("LOG_COMPRESS", true),
			EnableCaller: getEnvBool("LOG_ENABLE_CALLER", false),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:        getEnvBool("CACHE_ENABLED", false),
			RedisURL:       getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:        getEnvInt("CACHE_REDIS_DB", 0),
			LinkTTL:        getEnvDuration("CACHE_LINK_TTL", 24*time.Hour),
			HealthInterval: getEnvDuration("CACHE_HEALTH_INTERVAL", 30*time.Second),
		},
		Tracking: TrackingConfig{
			PublicOrigin:       strings.TrimRight(getEnvString("TRACKING_PUBLIC_ORIGIN", "http://localhost:8080"), "/"),
			DefaultLandingURL:  getEnvString("TRACKING_DEFAULT_LANDING_URL", "https://trakpilot.io"),
			GeoEndpoint:        getEnvString("TRACKING_GEO_ENDPOINT", "http://ip-api.com"),
			GeoTimeout:         getEnvDuration("TRACKING_GEO_TIMEOUT", 1500*time.Millisecond),
			SignatureFile:      getEnvString("TRACKING_SIGNATURE_FILE", ""),
			WebhookTimeout:     getEnvDuration("TRACKING_WEBHOOK_TIMEOUT", 5*time.Second),
			PoolWorkers:        getEnvInt("TRACKING_POOL_WORKERS", 16),
			PoolQueueSize:      getEnvInt("TRACKING_POOL_QUEUE", 1024),
			PoolTaskTimeout:    getEnvDuration("TRACKING_POOL_TASK_TIMEOUT", 10*time.Second),
			PoolShutdownWindow: getEnvDuration("TRACKING_POOL_SHUTDOWN_WINDOW", 10*time.Second),
		},
		Send: SendConfig{
			RateWindow:       getEnvDuration("SEND_RATE_WINDOW", time.Minute),
			RateMax:          getEnvInt("SEND_RATE_MAX", 10),
			FreeMonthlyLimit: int64(getEnvInt("SEND_FREE_MONTHLY_LIMIT", 50)),
			SMTPHost:         getEnvString("SEND_SMTP_HOST", ""),
			SMTPPort:         getEnvInt("SEND_SMTP_PORT", 587),
			SMTPUsername:     getEnvString("SEND_SMTP_USERNAME", ""),
			SMTPPassword:     getEnvString("SEND_SMTP_PASSWORD", ""),
			FromAddress:      getEnvString("SEND_FROM_ADDRESS", "notifications@trakpilot.io"),
			SecretBoxKey:     getEnvString("SEND_SECRET_BOX_KEY", ""),
		},
		Sweep: SweepConfig{
			Secret:            getEnvString("SWEEP_SECRET", ""),
			ScheduledBatch:    getEnvInt("SWEEP_SCHEDULED_BATCH", 10),
			SequenceBatch:     getEnvInt("SWEEP_SEQUENCE_BATCH", 50),
			ClaimLease:        getEnvDuration("SWEEP_CLAIM_LEASE", 5*time.Minute),
			Timeout:           getEnvDuration("SWEEP_TIMEOUT", 2*time.Minute),
			SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", false),
			ScheduledInterval: getEnvDuration("SCHEDULER_SCHEDULED_INTERVAL", time.Minute),
			SequencesInterval: getEnvDuration("SCHEDULER_SEQUENCES_INTERVAL", 5*time.Minute),
			RequireCronSecret: getEnvBool("SWEEP_REQUIRE_SECRET", env == "production"),
		},
		Events: EventsConfig{
			NATSURL:       getEnvString("EVENTS_NATS_URL", ""),
			SubjectPrefix: getEnvString("EVENTS_SUBJECT_PREFIX", "trakpilot"),
		},
		Sentry: SentryConfig{
			DSN:         getEnvString("SENTRY_DSN", ""),
			SampleRate:  getEnvFloat("SENTRY_SAMPLE_RATE", 1.0),
			Environment: env,
		},
		Deployment: DeploymentConfig{
			Environment: env,
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	return cfg, nil
}

// loadEnvFile loads variables from path when it exists; already-set variables win
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for item := range strings.SplitSeq(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errs []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errs = append(errs, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errs = append(errs, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "DB_USER is required")
	}

	// Validate JWT configuration
	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PrivateKey == "" || cfg.JWT.PublicKey == "" {
			errs = append(errs, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when JWT_USE_RSA_KEYS is set")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errs = append(errs, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "JWT_ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.JWT.UnsubscribeTokenTTL <= 0 {
		errs = append(errs, "JWT_UNSUBSCRIBE_TOKEN_TTL must be positive")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.StreamHeartbeat <= 0 {
		errs = append(errs, "STREAM_HEARTBEAT must be positive")
	}

	// Rate limits
	if cfg.Security.APIRateLimit <= 0 || cfg.Security.TrackRateLimit <= 0 {
		errs = append(errs, "API_RATE_LIMIT and TRACK_RATE_LIMIT must be positive")
	}
	if cfg.Send.RateMax <= 0 || cfg.Send.RateWindow <= 0 {
		errs = append(errs, "SEND_RATE_MAX and SEND_RATE_WINDOW must be positive")
	}

	// Public origin ends up in every tracked message
	if u, err := url.Parse(cfg.Tracking.PublicOrigin); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "TRACKING_PUBLIC_ORIGIN must be an absolute http(s) URL")
	}

	if cfg.Sweep.RequireCronSecret && cfg.Sweep.Secret == "" {
		errs = append(errs, "SWEEP_SECRET is required")
	}

	if cfg.Send.SecretBoxKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Send.SecretBoxKey)
		if err != nil || len(key) != 32 {
			errs = append(errs, "SEND_SECRET_BOX_KEY must be 32 bytes, base64 encoded")
		}
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		if !slices.Contains(validLevels, cfg.Logging.Level) {
			errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		errs = append(errs, "CACHE_REDIS_URL is required when cache is enabled")
	}

	// Return validation errors if any
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
