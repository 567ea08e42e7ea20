// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Secret encryption for webhook signing secrets
	EncryptionKey string

	// Webhook delivery
	WebhookTimeout          time.Duration
	WebhookResponseMaxChars int
	WebhookMaxAttempts      int
	WebhookRetryBase        time.Duration
	WebhookRetryMax         time.Duration

	// Background sweeps
	ApprovalSweepInterval   time.Duration
	RedeliverySweepInterval time.Duration

	// Telegram approval notifications (optional)
	TelegramBotToken string
	TelegramChatID   string

	// Broker (Zerodha Kite Connect) credentials for live execution
	KiteAPIKey      string
	KiteAccessToken string

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultWebhookTimeoutSecs  = 10
	DefaultWebhookMaxChars     = 1500
	DefaultWebhookMaxAttempts  = 3
	DefaultWebhookRetryBase    = 30 * time.Second
	DefaultWebhookRetryMax     = 900 * time.Second
	DefaultApprovalSweepEvery  = 30 * time.Second
	DefaultRedeliverySweepEach = 60 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", DefaultPort),
		Env:                     getEnv("ENV", DefaultEnv),
		LogLevel:                getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:               getEnv("LOG_FORMAT", "text"),
		DatabaseURL:             os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		EncryptionKey:           os.Getenv("ENCRYPTION_KEY"),
		WebhookTimeout:          getEnvSeconds("WEBHOOK_TIMEOUT_SECONDS", DefaultWebhookTimeoutSecs),
		WebhookResponseMaxChars: getEnvInt("WEBHOOK_RESPONSE_MAX_CHARS", DefaultWebhookMaxChars),
		WebhookMaxAttempts:      getEnvInt("WEBHOOK_MAX_ATTEMPTS", DefaultWebhookMaxAttempts),
		WebhookRetryBase:        getEnvSeconds("WEBHOOK_RETRY_BASE_SECONDS", int(DefaultWebhookRetryBase/time.Second)),
		WebhookRetryMax:         getEnvSeconds("WEBHOOK_RETRY_MAX_SECONDS", int(DefaultWebhookRetryMax/time.Second)),
		ApprovalSweepInterval:   getEnvSeconds("APPROVAL_SWEEP_SECONDS", int(DefaultApprovalSweepEvery/time.Second)),
		RedeliverySweepInterval: getEnvSeconds("REDELIVERY_SWEEP_SECONDS", int(DefaultRedeliverySweepEach/time.Second)),
		TelegramBotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:          os.Getenv("TELEGRAM_CHAT_ID"),
		KiteAPIKey:              os.Getenv("KITE_API_KEY"),
		KiteAccessToken:         os.Getenv("KITE_ACCESS_TOKEN"),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	if c.WebhookTimeout < time.Second {
		return fmt.Errorf("WEBHOOK_TIMEOUT_SECONDS must be at least 1")
	}
	if c.WebhookRetryMax < c.WebhookRetryBase {
		return fmt.Errorf("WEBHOOK_RETRY_MAX_SECONDS must be >= WEBHOOK_RETRY_BASE_SECONDS")
	}
	if c.WebhookResponseMaxChars < 200 {
		c.WebhookResponseMaxChars = 200
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
