package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// HTTP Configuration:
// - HTTP_ADDR: Listen address for the API server (default: :8080)
//
// Storage Configuration:
// - DB_PATH: SQLite database file path (default: data/booking.db)
// - DB_OP_TIMEOUT: Per-operation timeout in seconds (default: 5)
//
// Notification Configuration:
// - PUSH_GATEWAY_URL: Push delivery endpoint (required)
// - SMS_GATEWAY_URL: SMS delivery endpoint (required)
// - SMS_API_KEY: Bearer token for the SMS gateway (optional)
// - NOTIFY_TIMEOUT: Gateway request timeout in seconds (default: 10)
// - NOTIFY_WORKERS: Broadcast dispatcher worker count (default: 4)
//
// Sweep Configuration:
// - SWEEP_CRON_EXPR: Expiration sweep schedule (default: */5 * * * *)
//
// System Configuration:
// - LOG_LEVEL: debug, info, warn or error (default: info)

type Config struct {
	// HTTP Configuration
	HTTP HTTPConfig `json:"http"`

	// Storage Configuration
	Storage StorageConfig `json:"storage"`

	// Notification Configuration
	Notify NotifyConfig `json:"notify"`

	// Sweep Configuration
	Sweep SweepConfig `json:"sweep"`

	// System Configuration
	System SystemConfig `json:"system"`
}

// HTTPConfig holds the configuration for the API server
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// StorageConfig holds the configuration for the SQLite store
type StorageConfig struct {
	DBPath    string `json:"db_path"`
	OpTimeout int    `json:"op_timeout"` // seconds
}

// NotifyConfig holds the configuration for the delivery gateways
type NotifyConfig struct {
	PushGatewayURL string `json:"push_gateway_url"`
	SMSGatewayURL  string `json:"sms_gateway_url"`
	SMSAPIKey      string `json:"sms_api_key"`
	Timeout        int    `json:"timeout"` // seconds
	Workers        int    `json:"workers"`
}

// SweepConfig holds the configuration for the expiration sweep
type SweepConfig struct {
	CronExpr string `json:"cron_expr"`
}

// SystemConfig holds the system configuration
type SystemConfig struct {
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	// A missing .env file is fine; real env vars still apply.
	_ = godotenv.Load()

	config := &Config{
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		Storage: StorageConfig{
			DBPath:    getEnvString("DB_PATH", "data/booking.db"),
			OpTimeout: getEnvInt("DB_OP_TIMEOUT", 5),
		},
		Notify: NotifyConfig{
			PushGatewayURL: getEnvString("PUSH_GATEWAY_URL", ""),
			SMSGatewayURL:  getEnvString("SMS_GATEWAY_URL", ""),
			SMSAPIKey:      getEnvString("SMS_API_KEY", ""),
			Timeout:        getEnvInt("NOTIFY_TIMEOUT", 10),
			Workers:        getEnvInt("NOTIFY_WORKERS", 4),
		},
		Sweep: SweepConfig{
			CronExpr: getEnvString("SWEEP_CRON_EXPR", "*/5 * * * *"),
		},
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Notify.PushGatewayURL == "" {
		return fmt.Errorf("PUSH_GATEWAY_URL is required")
	}
	if c.Notify.SMSGatewayURL == "" {
		return fmt.Errorf("SMS_GATEWAY_URL is required")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1")
	}
	if _, err := cron.ParseStandard(c.Sweep.CronExpr); err != nil {
		return fmt.Errorf("SWEEP_CRON_EXPR is invalid: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
