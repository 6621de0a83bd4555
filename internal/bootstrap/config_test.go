package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", "config-test-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "wb:", cfg.KeyPrefix)
	assert.Equal(t, 24, cfg.TicketExpiry)
	assert.Equal(t, 16, cfg.MaxParticipants)
	assert.Equal(t, 100, cfg.MaxHistory)
	assert.Equal(t, 16<<20, cfg.MaxDocumentBytes)
	assert.Equal(t, 1200, cfg.CanvasWidth)
	assert.Equal(t, 800, cfg.CanvasHeight)
	assert.Equal(t, "#ffffff", cfg.CanvasBackground)
	assert.Equal(t, 5*time.Minute, cfg.EmptyRoomTTL)
	assert.Equal(t, time.Minute, cfg.JoinAttemptWindow)
	assert.Equal(t, 30, cfg.AuditRetentionDays)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_PARTICIPANTS", "4")
	t.Setenv("MAX_DOCUMENT_BYTES", "1048576")
	t.Setenv("EMPTY_ROOM_TTL", "90s")
	t.Setenv("JOIN_ATTEMPT_WINDOW", "30")
	t.Setenv("LOG_LEVEL", "chatty")
	t.Setenv("CANVAS_BACKGROUND", "#000000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxParticipants)
	assert.Equal(t, 1<<20, cfg.MaxDocumentBytes)
	assert.Equal(t, 90*time.Second, cfg.EmptyRoomTTL)
	assert.Equal(t, 30*time.Second, cfg.JoinAttemptWindow)
	assert.Equal(t, "info", cfg.LogLevel, "invalid level falls back to info")
	assert.Equal(t, "#000000", cfg.CanvasBackground)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing redis", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "")
		t.Setenv("JWT_SECRET", "x")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "REDIS_ADDR")
	})
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("JWT_SECRET", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})
	t.Run("bad integer", func(t *testing.T) {
		setRequired(t)
		t.Setenv("MAX_HISTORY", "lots")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "MAX_HISTORY")
	})
	t.Run("bad duration", func(t *testing.T) {
		setRequired(t)
		t.Setenv("EMPTY_ROOM_TTL", "soon")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "EMPTY_ROOM_TTL")
	})
}
