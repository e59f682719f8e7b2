package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maintrack/offsync/internal/adapters/localapi"
	"github.com/maintrack/offsync/pkg/offsync"
)

// DefaultServiceURL is the default remote endpoint.
const DefaultServiceURL = offsync.DefaultServiceURL

// Config holds CLI configuration for offsync.
type Config struct {
	ServiceURL string
	AuthToken  string
	DataDir    string
	ClientID   string

	ProbeTimeout         time.Duration
	OnlineProbeInterval  time.Duration
	OfflineProbeInterval time.Duration
	SlowProbeThreshold   time.Duration
	SyncInterval         time.Duration
	RequestTimeout       time.Duration

	MaxAttempts      int
	CacheBudgetBytes int64
	EvictionSchedule string
	Collections      []string
	PullLimit        int

	ListenAddr string
	LogLevel   string
	LogFile    string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ServiceURL:           DefaultServiceURL,
		DataDir:              DefaultDataDir(),
		ProbeTimeout:         5 * time.Second,
		OnlineProbeInterval:  60 * time.Second,
		OfflineProbeInterval: 15 * time.Second,
		SlowProbeThreshold:   2 * time.Second,
		SyncInterval:         30 * time.Second,
		RequestTimeout:       30 * time.Second,
		MaxAttempts:          offsync.DefaultMaxAttempts,
		CacheBudgetBytes:     offsync.DefaultCacheBudget,
		EvictionSchedule:     offsync.DefaultEvictionSchedule,
		PullLimit:            offsync.DefaultPullLimit,
		ListenAddr:           localapi.DefaultAddr,
		LogLevel:             "info",
	}
}

// DefaultDataDir returns ~/.offsync/data, or a relative fallback.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".offsync", "data")
	}
	return ".offsync"
}

// Validate checks the configuration for errors and normalizes values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max-attempts must be positive")
	}
	if c.CacheBudgetBytes <= 0 {
		return fmt.Errorf("cache-budget must be positive")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	return nil
}

// ClientConfig converts the CLI configuration for the library.
func (c Config) ClientConfig(version string) offsync.Config {
	return offsync.Config{
		ServiceURL:           c.ServiceURL,
		AuthToken:            c.AuthToken,
		ClientID:             c.ClientID,
		DataDir:              c.DataDir,
		ProbeTimeout:         c.ProbeTimeout,
		OnlineProbeInterval:  c.OnlineProbeInterval,
		OfflineProbeInterval: c.OfflineProbeInterval,
		SlowProbeThreshold:   c.SlowProbeThreshold,
		SyncInterval:         c.SyncInterval,
		RequestTimeout:       c.RequestTimeout,
		MaxAttempts:          c.MaxAttempts,
		CacheBudgetBytes:     c.CacheBudgetBytes,
		EvictionSchedule:     c.EvictionSchedule,
		Collections:          c.Collections,
		PullLimit:            c.PullLimit,
		Version:              version,
	}
}

// Masked returns a copy safe to log.
func (c Config) Masked() Config {
	if c.AuthToken != "" {
		c.AuthToken = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setInt(flag, i, dst)
	return nil
}

func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setInt64(flag, i, dst)
	return nil
}

// setListFromString splits a comma-separated list, dropping blanks.
func (s *configSetter) setListFromString(flag, value string, dst *[]string) {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	s.setStrings(flag, items, dst)
}
