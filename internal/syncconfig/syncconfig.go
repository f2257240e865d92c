// Package syncconfig holds the revsync user config stored at
// ~/.config/revsync/config.json and its environment overrides.
package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL               string `json:"url,omitempty"`
	PingInterval      string `json:"ping_interval,omitempty"`      // duration string, default "2s"
	SnapshotThreshold *int   `json:"snapshot_threshold,omitempty"` // nil = default 100
	MergeLagging      *bool  `json:"merge_lagging,omitempty"`      // nil = default true
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Config is the global revsync config.
type Config struct {
	UserID   string     `json:"user_id,omitempty"`
	DeviceID string     `json:"device_id,omitempty"`
	DataDir  string     `json:"data_dir,omitempty"`
	Sync     SyncConfig `json:"sync"`
	Log      LogConfig  `json:"log"`
}

const (
	defaultServerURL         = "http://localhost:8080"
	defaultPingInterval      = 2 * time.Second
	defaultSnapshotThreshold = 100
)

// ConfigDir returns the config directory, creating it if necessary.
// REVSYNC_CONFIG_DIR overrides ~/.config/revsync.
func ConfigDir() (string, error) {
	dir := os.Getenv("REVSYNC_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "revsync")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads config.json. A missing file is an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// loadOrEmpty ignores read errors; getters fall back to defaults.
func loadOrEmpty() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return &Config{}
	}
	return cfg
}

// GetServerURL returns the authority URL.
// Priority: REVSYNC_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("REVSYNC_URL"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetDataDir returns the directory holding the local revision log.
// Priority: REVSYNC_DATA_DIR env > config.json > <config dir>/data.
func GetDataDir() (string, error) {
	if v := os.Getenv("REVSYNC_DATA_DIR"); v != "" {
		return v, nil
	}
	if cfg := loadOrEmpty(); cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// GetPingInterval returns the sink tick interval.
// Priority: REVSYNC_PING_INTERVAL env > config.json > 2s.
func GetPingInterval() time.Duration {
	if d, ok := parseDuration(os.Getenv("REVSYNC_PING_INTERVAL")); ok {
		return d
	}
	if d, ok := parseDuration(loadOrEmpty().Sync.PingInterval); ok {
		return d
	}
	return defaultPingInterval
}

// GetSnapshotThreshold returns how many revisions since the last snapshot
// trigger a new one on close. Zero disables snapshots.
// Priority: REVSYNC_SNAPSHOT_THRESHOLD env > config.json > default (100).
func GetSnapshotThreshold() int {
	if v := os.Getenv("REVSYNC_SNAPSHOT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	cfg := loadOrEmpty()
	if cfg.Sync.SnapshotThreshold != nil && *cfg.Sync.SnapshotThreshold >= 0 {
		return *cfg.Sync.SnapshotThreshold
	}
	return defaultSnapshotThreshold
}

// GetMergeLagging returns whether lagging local revisions are merged while
// one is in flight.
// Priority: REVSYNC_MERGE_LAGGING env > config.json > true.
func GetMergeLagging() bool {
	if v := parseBoolEnv("REVSYNC_MERGE_LAGGING"); v != nil {
		return *v
	}
	if cfg := loadOrEmpty(); cfg.Sync.MergeLagging != nil {
		return *cfg.Sync.MergeLagging
	}
	return true
}

// GetLogLevel returns the configured slog level name, "info" by default.
func GetLogLevel() string {
	if v := os.Getenv("REVSYNC_LOG_LEVEL"); v != "" {
		return strings.ToLower(v)
	}
	if cfg := loadOrEmpty(); cfg.Log.Level != "" {
		return strings.ToLower(cfg.Log.Level)
	}
	return "info"
}

// GetLogFormat returns "json" or "text", "text" by default.
func GetLogFormat() string {
	v := os.Getenv("REVSYNC_LOG_FORMAT")
	if v == "" {
		v = loadOrEmpty().Log.Format
	}
	if strings.ToLower(v) == "json" {
		return "json"
	}
	return "text"
}

// GetUserID returns the user id, falling back to the device id.
// Priority: REVSYNC_USER env > config.json > device id.
func GetUserID() (string, error) {
	if v := os.Getenv("REVSYNC_USER"); v != "" {
		return v, nil
	}
	if cfg := loadOrEmpty(); cfg.UserID != "" {
		return cfg.UserID, nil
	}
	return GetDeviceID()
}

// GetDeviceID returns the device id from config.json, generating and saving
// one on first use.
func GetDeviceID() (string, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return "", err
	}
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	cfg.DeviceID = GenerateDeviceID()
	if err := SaveConfig(cfg); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return cfg.DeviceID, nil
}

// GenerateDeviceID creates a new random device id.
func GenerateDeviceID() string {
	return uuid.NewString()
}

func parseDuration(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	switch v {
	case "1", "true":
		b := true
		return &b
	case "0", "false":
		b := false
		return &b
	}
	return nil
}
