package api

import (
	"os"
	"strconv"
	"time"
)

// Config holds the authority configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DataDir         string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitConnect  int // websocket upgrades per IP per minute (default: 30)
	RateLimitMessages int // inbound messages per connection per minute (default: 600)
	MaxMessageBytes   int64
	WriteTimeout      time.Duration

	// WebhookURL receives a signed POST for every batch of accepted
	// revisions. Empty disables webhooks.
	WebhookURL    string
	WebhookSecret string
	WebhookQueue  int
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DataDir:         "./data",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitConnect:  30,
		RateLimitMessages: 600,
		MaxMessageBytes:   4 << 20,
		WriteTimeout:      10 * time.Second,
		WebhookQueue:      256,
	}

	if v := os.Getenv("REVSYNC_AUTHORITY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_RATE_LIMIT_CONNECT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitConnect = n
		}
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_RATE_LIMIT_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitMessages = n
		}
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxMessageBytes = n
		}
	}
	if v := os.Getenv("REVSYNC_AUTHORITY_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WriteTimeout = d
		}
	}

	if v := os.Getenv("REVSYNC_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := os.Getenv("REVSYNC_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("REVSYNC_WEBHOOK_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WebhookQueue = n
		}
	}

	return cfg
}
