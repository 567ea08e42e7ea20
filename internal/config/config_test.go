package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "ENCRYPTION_KEY", "unit-test-key")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, DefaultWebhookMaxAttempts, cfg.WebhookMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.WebhookRetryBase)
	assert.Equal(t, 900*time.Second, cfg.WebhookRetryMax)
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	setEnv(t, "ENCRYPTION_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY is required")
}

func TestLoad_RetryBoundsValidated(t *testing.T) {
	setEnv(t, "ENCRYPTION_KEY", "unit-test-key")
	setEnv(t, "WEBHOOK_RETRY_BASE_SECONDS", "120")
	setEnv(t, "WEBHOOK_RETRY_MAX_SECONDS", "60")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ResponseCapFloor(t *testing.T) {
	setEnv(t, "ENCRYPTION_KEY", "unit-test-key")
	setEnv(t, "WEBHOOK_RESPONSE_MAX_CHARS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.WebhookResponseMaxChars)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	setEnv(t, "ENCRYPTION_KEY", "unit-test-key")
	setEnv(t, "WEBHOOK_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWebhookMaxAttempts, cfg.WebhookMaxAttempts)
}
