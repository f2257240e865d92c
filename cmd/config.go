package cmd

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/revsync/internal/output"
	"github.com/marcus/revsync/internal/suggest"
	"github.com/marcus/revsync/internal/syncconfig"
)

// configKeys maps user-facing keys to setters on the config file.
var configKeys = map[string]func(cfg *syncconfig.Config, v string) error{
	"url": func(cfg *syncconfig.Config, v string) error {
		cfg.Sync.URL = v
		return nil
	},
	"user": func(cfg *syncconfig.Config, v string) error {
		cfg.UserID = v
		return nil
	},
	"data_dir": func(cfg *syncconfig.Config, v string) error {
		cfg.DataDir = v
		return nil
	},
	"ping_interval": func(cfg *syncconfig.Config, v string) error {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid duration %q", v)
		}
		cfg.Sync.PingInterval = v
		return nil
	},
	"snapshot_threshold": func(cfg *syncconfig.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid threshold %q: want a non-negative integer", v)
		}
		cfg.Sync.SnapshotThreshold = &n
		return nil
	},
	"merge_lagging": func(cfg *syncconfig.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid bool %q", v)
		}
		cfg.Sync.MergeLagging = &b
		return nil
	},
	"log.level": func(cfg *syncconfig.Config, v string) error {
		cfg.Log.Level = v
		return nil
	},
	"log.format": func(cfg *syncconfig.Config, v string) error {
		if v != "json" && v != "text" {
			return fmt.Errorf("invalid log format %q: want json or text", v)
		}
		cfg.Log.Format = v
		return nil
	},
}

// EffectiveConfig is what the CLI will use after env overrides.
type EffectiveConfig struct {
	ServerURL         string `json:"url"`
	UserID            string `json:"user"`
	DataDir           string `json:"data_dir"`
	PingInterval      string `json:"ping_interval"`
	SnapshotThreshold int    `json:"snapshot_threshold"`
	MergeLagging      bool   `json:"merge_lagging"`
	LogLevel          string `json:"log.level"`
	LogFormat         string `json:"log.format"`
}

func effectiveConfig() (*EffectiveConfig, error) {
	user, err := syncconfig.GetUserID()
	if err != nil {
		return nil, err
	}
	dataDir, err := syncconfig.GetDataDir()
	if err != nil {
		return nil, err
	}
	return &EffectiveConfig{
		ServerURL:         syncconfig.GetServerURL(),
		UserID:            user,
		DataDir:           dataDir,
		PingInterval:      syncconfig.GetPingInterval().String(),
		SnapshotThreshold: syncconfig.GetSnapshotThreshold(),
		MergeLagging:      syncconfig.GetMergeLagging(),
		LogLevel:          syncconfig.GetLogLevel(),
		LogFormat:         syncconfig.GetLogFormat(),
	}, nil
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show the effective configuration",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := effectiveConfig()
		if err != nil {
			return err
		}
		return output.JSON(cfg)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a key in config.json",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setConfigValue(args[0], args[1]); err != nil {
			return err
		}
		output.Success("%s = %s", args[0], args[1])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := syncconfig.ConfigDir()
		if err != nil {
			return err
		}
		fmt.Println(filepath.Join(dir, "config.json"))
		return nil
	},
}

func setConfigValue(key, value string) error {
	set, ok := configKeys[key]
	if !ok {
		keys := make([]string, 0, len(configKeys))
		for k := range configKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if hint := suggest.Hint(suggest.Closest(key, keys)); hint != "" {
			return fmt.Errorf("unknown key %q%s", key, hint)
		}
		return fmt.Errorf("unknown key %q (known: %s)", key, strings.Join(keys, ", "))
	}
	cfg, err := syncconfig.LoadConfig()
	if err != nil {
		return err
	}
	if err := set(cfg, value); err != nil {
		return err
	}
	return syncconfig.SaveConfig(cfg)
}

func init() {
	configCmd.AddCommand(configSetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
