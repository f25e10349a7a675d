package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("ATTENDANCE_TIMEZONE", "")

	cfg := Load()
	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, "classroom:ai-events", cfg.QueueKey)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ACCESS_TTL", "30m")
	t.Setenv("VISION_SKIP", "false")
	t.Setenv("RATE_LIMIT_PER_MIN", "42")
	t.Setenv("STORE_BACKEND", "memory")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.VisionSkip)
	assert.Equal(t, 42, cfg.RateLimitPerMin)
	assert.Equal(t, "memory", cfg.StoreBackend)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("AUTO_MIGRATE", "maybe")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")

	cfg := Load()
	assert.Equal(t, 12*time.Hour, cfg.AccessTTL)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 600, cfg.RateLimitPerMin)
}

func TestLocation(t *testing.T) {
	cfg := App{Timezone: "UTC"}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = App{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
