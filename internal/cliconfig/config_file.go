package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ServiceURL           string   `toml:"service_url"`
	AuthToken            string   `toml:"auth_token"`
	DataDir              string   `toml:"data_dir"`
	ProbeTimeout         string   `toml:"probe_timeout"`
	OnlineProbeInterval  string   `toml:"online_probe_interval"`
	OfflineProbeInterval string   `toml:"offline_probe_interval"`
	SlowProbeThreshold   string   `toml:"slow_probe_threshold"`
	SyncInterval         string   `toml:"sync_interval"`
	RequestTimeout       string   `toml:"request_timeout"`
	MaxAttempts          int      `toml:"max_attempts"`
	CacheBudgetBytes     int64    `toml:"cache_budget_bytes"`
	EvictionSchedule     string   `toml:"eviction_schedule"`
	Collections          []string `toml:"collections"`
	PullLimit            int      `toml:"pull_limit"`
	ListenAddr           string   `toml:"listen_addr"`
	LogLevel             string   `toml:"log_level"`
	LogFile              string   `toml:"log_file"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.offsync/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".offsync", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("auth-token", fc.AuthToken, &cfg.AuthToken)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("eviction-schedule", fc.EvictionSchedule, &cfg.EvictionSchedule)
	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)
	s.setStrings("collections", fc.Collections, &cfg.Collections)

	durations := []struct {
		flag, value string
		dst         *time.Duration
	}{
		{"probe-timeout", fc.ProbeTimeout, &cfg.ProbeTimeout},
		{"online-probe-interval", fc.OnlineProbeInterval, &cfg.OnlineProbeInterval},
		{"offline-probe-interval", fc.OfflineProbeInterval, &cfg.OfflineProbeInterval},
		{"slow-probe-threshold", fc.SlowProbeThreshold, &cfg.SlowProbeThreshold},
		{"sync-interval", fc.SyncInterval, &cfg.SyncInterval},
		{"request-timeout", fc.RequestTimeout, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setInt("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts)
	s.setInt("pull-limit", fc.PullLimit, &cfg.PullLimit)
	s.setInt64("cache-budget", fc.CacheBudgetBytes, &cfg.CacheBudgetBytes)
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
