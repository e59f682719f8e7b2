package cliconfig

import (
	"os"
	"time"
)

// EnvPrefix prefixes every environment variable offsync reads.
const EnvPrefix = "OFFSYNC_"

// ApplyEnvConfig applies configuration from environment variables (OFFSYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(key string) string { return os.Getenv(EnvPrefix + key) }

	s.setString("service-url", env("SERVICE_URL"), &cfg.ServiceURL)
	s.setString("auth-token", env("AUTH_TOKEN"), &cfg.AuthToken)
	s.setString("data-dir", env("DATA_DIR"), &cfg.DataDir)
	s.setString("eviction-schedule", env("EVICTION_SCHEDULE"), &cfg.EvictionSchedule)
	s.setString("listen", env("LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-file", env("LOG_FILE"), &cfg.LogFile)
	s.setListFromString("collections", env("COLLECTIONS"), &cfg.Collections)

	durations := []struct {
		flag, key string
		dst       *time.Duration
	}{
		{"probe-timeout", "PROBE_TIMEOUT", &cfg.ProbeTimeout},
		{"online-probe-interval", "ONLINE_PROBE_INTERVAL", &cfg.OnlineProbeInterval},
		{"offline-probe-interval", "OFFLINE_PROBE_INTERVAL", &cfg.OfflineProbeInterval},
		{"slow-probe-threshold", "SLOW_PROBE_THRESHOLD", &cfg.SlowProbeThreshold},
		{"sync-interval", "SYNC_INTERVAL", &cfg.SyncInterval},
		{"request-timeout", "REQUEST_TIMEOUT", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, env(d.key), d.dst); err != nil {
			return err
		}
	}

	if err := s.setIntFromString("max-attempts", env("MAX_ATTEMPTS"), &cfg.MaxAttempts); err != nil {
		return err
	}
	if err := s.setIntFromString("pull-limit", env("PULL_LIMIT"), &cfg.PullLimit); err != nil {
		return err
	}
	if err := s.setInt64FromString("cache-budget", env("CACHE_BUDGET_BYTES"), &cfg.CacheBudgetBytes); err != nil {
		return err
	}
	return nil
}
