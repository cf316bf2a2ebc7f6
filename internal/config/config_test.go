package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("BACKEND_MODE", "")
	t.Setenv("OTP_TTL", "")

	cfg := Load()

	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.BackendMode)
	assert.Equal(t, 15*time.Minute, cfg.OTPTTL)
	assert.False(t, cfg.CloudinaryConfigured())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("APP_ENV", "prod")

	cfg := Load()

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.OTELEnabled)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.True(t, cfg.Production())
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("SMTP_PORT", "abc")
	t.Setenv("OTEL_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, time.Hour, cfg.AccessTTL)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.False(t, cfg.OTELEnabled)
}
