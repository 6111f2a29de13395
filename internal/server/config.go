// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the group chat service.
package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/groupchat/internal/protocol"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the server reads,
// e.g. GOCHAT_PORT or GOCHAT_RATE_LIMIT_BURST.
const EnvPrefix = "GOCHAT"

// Configuration keys understood by LoadConfig.
const (
	keyPort                = "port"
	keyHTTPAddr            = "http_addr"
	keyAllowedOrigins      = "allowed_origins"
	keyMaxFrameSize        = "max_frame_size"
	keyMaxLoginAttempts    = "max_login_attempts"
	keyRateLimitBurst      = "rate_limit.burst"
	keyRateLimitRefill     = "rate_limit.refill_interval"
	keyFounder             = "founder"
	keyAnnounceDisconnects = "announce_disconnects"
	keyDirectory           = "directory"
	keyShutdownTimeout     = "shutdown_timeout"
	keyLogLevel            = "log_level"
	keyLogFormat           = "log_format"
)

// RateLimitConfig defines the parameters for per-session text rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	// Port is the TCP listen address for framed client connections.
	Port string
	// HTTPAddr serves health, metrics and the WebSocket transport. Empty disables it.
	HTTPAddr       string
	AllowedOrigins []string
	MaxFrameSize   int
	// MaxLoginAttempts closes a connection after that many unknown names; 0 means unbounded.
	MaxLoginAttempts int
	RateLimit        RateLimitConfig
	// Founder is the identity that is the sole group member at start.
	Founder             int
	AnnounceDisconnects bool
	DirectoryPath       string
	ShutdownTimeout     time.Duration
	LogLevel            string
	LogFormat           string
}

func defaultConfig() Config {
	return Config{
		Port:     ":9000",
		HTTPAddr: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		MaxLoginAttempts: 16,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Founder:             0,
		AnnounceDisconnects: true,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	cfg.Port = normalizeListenAddr(cfg.Port)

	if cfg.HTTPAddr != "" {
		cfg.HTTPAddr = normalizeListenAddr(cfg.HTTPAddr)
	}

	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaults.MaxFrameSize
	}

	if cfg.MaxLoginAttempts < 0 {
		cfg.MaxLoginAttempts = 0
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if cfg.Founder < 0 {
		cfg.Founder = defaults.Founder
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// normalizeListenAddr accepts a bare port ("9000") as well as host:port.
func normalizeListenAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if _, err := strconv.Atoi(addr); err == nil {
		return ":" + addr
	}
	return addr
}

// LoadConfig builds a Config from defaults, an optional config file and
// GOCHAT_* environment variables, in increasing order of precedence. Values
// already set on v (flags bound by the caller) win over all of them.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	defaults := defaultConfig()
	v.SetDefault(keyPort, defaults.Port)
	v.SetDefault(keyHTTPAddr, defaults.HTTPAddr)
	v.SetDefault(keyAllowedOrigins, defaults.AllowedOrigins)
	v.SetDefault(keyMaxFrameSize, defaults.MaxFrameSize)
	v.SetDefault(keyMaxLoginAttempts, defaults.MaxLoginAttempts)
	v.SetDefault(keyRateLimitBurst, defaults.RateLimit.Burst)
	v.SetDefault(keyRateLimitRefill, defaults.RateLimit.RefillInterval.String())
	v.SetDefault(keyFounder, defaults.Founder)
	v.SetDefault(keyAnnounceDisconnects, defaults.AnnounceDisconnects)
	v.SetDefault(keyDirectory, "")
	v.SetDefault(keyShutdownTimeout, defaults.ShutdownTimeout.String())
	v.SetDefault(keyLogLevel, defaults.LogLevel)
	v.SetDefault(keyLogFormat, defaults.LogFormat)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := Config{
		Port:                v.GetString(keyPort),
		HTTPAddr:            v.GetString(keyHTTPAddr),
		AllowedOrigins:      originsValue(v, keyAllowedOrigins),
		MaxFrameSize:        v.GetInt(keyMaxFrameSize),
		MaxLoginAttempts:    v.GetInt(keyMaxLoginAttempts),
		Founder:             v.GetInt(keyFounder),
		AnnounceDisconnects: v.GetBool(keyAnnounceDisconnects),
		DirectoryPath:       v.GetString(keyDirectory),
		LogLevel:            v.GetString(keyLogLevel),
		LogFormat:           v.GetString(keyLogFormat),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt(keyRateLimitBurst),
			RefillInterval: durationValue(v.GetString(keyRateLimitRefill), defaults.RateLimit.RefillInterval),
		},
		ShutdownTimeout: durationValue(v.GetString(keyShutdownTimeout), defaults.ShutdownTimeout),
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

// originsValue accepts either a list (config file) or a comma separated
// string (environment).
func originsValue(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).(string); ok {
		return parseOrigins(raw)
	}
	return v.GetStringSlice(key)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// durationValue reads a bare integer as seconds and anything else as a Go
// duration string.
func durationValue(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
