package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "courseplatform.db", cfg.DatabaseURL)
	assert.Equal(t, 4*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5, cfg.WebhookMaxAttempts)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.StripeSecret)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STRIPE_PRICE_FAMILY", "price_family")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "price_family", cfg.PriceFamily)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Config{
		DatabaseURL:        "",
		SessionSecret:      "short",
		SessionTTL:         time.Hour,
		WebhookMaxAttempts: 0,
		StripeSecret:       "sk_test_123",
	}

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.True(t, strings.Contains(msg, "DATABASE_URL"))
	assert.True(t, strings.Contains(msg, "SESSION_SECRET"))
	assert.True(t, strings.Contains(msg, "WEBHOOK_MAX_ATTEMPTS"))
	assert.True(t, strings.Contains(msg, "STRIPE_WEBHOOK_SECRET"))
}

func TestFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("SESSION_TTL", "forever")

	_, err := FromEnv()
	assert.Error(t, err)
}
