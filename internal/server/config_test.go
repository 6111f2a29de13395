package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tyrowin/groupchat/internal/protocol"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, protocol.DefaultMaxFrameSize, cfg.MaxFrameSize)
	assert.Equal(t, 16, cfg.MaxLoginAttempts)
	assert.Equal(t, RateLimitConfig{Burst: 20, RefillInterval: time.Second}, cfg.RateLimit)
	assert.Equal(t, 0, cfg.Founder)
	assert.True(t, cfg.AnnounceDisconnects)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestSanitizeConfig(t *testing.T) {
	origins := []string{"http://example.com"}
	cfg := sanitizeConfig(Config{
		Port:             "7000",
		HTTPAddr:         "8081",
		AllowedOrigins:   origins,
		MaxFrameSize:     -1,
		MaxLoginAttempts: -3,
		RateLimit:        RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
		Founder:          -2,
	})

	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, protocol.DefaultMaxFrameSize, cfg.MaxFrameSize)
	assert.Equal(t, 0, cfg.MaxLoginAttempts)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 0, cfg.Founder)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)

	origins[0] = "http://changed.example"
	assert.Equal(t, []string{"http://example.com"}, cfg.AllowedOrigins, "origins must be copied")
}

func TestSanitizeConfigKeepsHTTPDisabled(t *testing.T) {
	cfg := sanitizeConfig(Config{Port: "127.0.0.1:9000"})
	assert.Equal(t, "", cfg.HTTPAddr)
	assert.Equal(t, "127.0.0.1:9000", cfg.Port)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)

	expected := sanitizeConfig(defaultConfig())
	assert.Equal(t, &expected, cfg)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("GOCHAT_PORT", "9100")
	t.Setenv("GOCHAT_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("GOCHAT_RATE_LIMIT_BURST", "5")
	t.Setenv("GOCHAT_RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("GOCHAT_ANNOUNCE_DISCONNECTS", "false")
	t.Setenv("GOCHAT_SHUTDOWN_TIMEOUT", "250ms")
	t.Setenv("GOCHAT_FOUNDER", "2")

	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	assert.False(t, cfg.AnnounceDisconnects)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownTimeout)
	assert.Equal(t, 2, cfg.Founder)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groupchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "127.0.0.1:9500"
http_addr: ""
allowed_origins:
  - http://chat.example
max_login_attempts: 3
rate_limit:
  burst: 7
  refill_interval: 2s
directory: roster.toml
log_format: json
`), 0o600))

	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9500", cfg.Port)
	assert.Equal(t, "", cfg.HTTPAddr)
	assert.Equal(t, []string{"http://chat.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.MaxLoginAttempts)
	assert.Equal(t, RateLimitConfig{Burst: 7, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, "roster.toml", cfg.DirectoryPath)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groupchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_frame_size: 1024\n"), 0o600))
	t.Setenv("GOCHAT_MAX_FRAME_SIZE", "2048")

	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.MaxFrameSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationValue(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"10", 10 * time.Second},
		{"1m30s", 90 * time.Second},
		{"", time.Minute},
		{"-5", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, durationValue(tt.in, time.Minute), "input %q", tt.in)
	}
}
