package offsync

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/maintrack/offsync/internal/adapters/sqlite"
	"github.com/maintrack/offsync/internal/app"
)

// Default values for Config.
const (
	DefaultServiceURL       = "http://localhost:8080"
	DefaultCacheBudget      = 256 << 20
	DefaultEvictionSchedule = "@every 10m"
	DefaultPullLimit        = app.DefaultPullLimit
	DefaultMaxAttempts      = app.DefaultMaxAttempts
)

// Config holds the client configuration.
// Zero values are replaced by defaults in SetDefaults.
type Config struct {
	// ServiceURL is the base URL of the remote system of record.
	ServiceURL string

	// AuthToken is sent as a bearer credential on every request.
	AuthToken string

	// ClientID identifies this device to the remote.
	ClientID string

	// DataDir holds the local database. Required.
	DataDir string

	ProbeTimeout         time.Duration
	OnlineProbeInterval  time.Duration
	OfflineProbeInterval time.Duration
	SlowProbeThreshold   time.Duration

	// SyncInterval is the period of the background sync timer.
	SyncInterval time.Duration

	// RequestTimeout bounds every push and pull request.
	RequestTimeout time.Duration

	// MaxAttempts before a mutation is dead-lettered.
	MaxAttempts int

	// CacheBudgetBytes bounds the page cache; pages are evicted LRU.
	CacheBudgetBytes int64

	// EvictionSchedule is a cron spec for budget enforcement.
	EvictionSchedule string

	// Collections are pulled on every cycle.
	Collections []string
	PullLimit   int

	// Version is reported in the User-Agent.
	Version string
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = app.DefaultProbeTimeout
	}
	if c.OnlineProbeInterval <= 0 {
		c.OnlineProbeInterval = app.DefaultOnlineInterval
	}
	if c.OfflineProbeInterval <= 0 {
		c.OfflineProbeInterval = app.DefaultOfflineInterval
	}
	if c.SlowProbeThreshold <= 0 {
		c.SlowProbeThreshold = app.DefaultSlowThreshold
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = app.DefaultSyncInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = app.DefaultRequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CacheBudgetBytes == 0 {
		c.CacheBudgetBytes = DefaultCacheBudget
	}
	if c.EvictionSchedule == "" {
		c.EvictionSchedule = DefaultEvictionSchedule
	}
	if c.PullLimit <= 0 {
		c.PullLimit = DefaultPullLimit
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data dir is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.ServiceURL, "http://") && !strings.HasPrefix(c.ServiceURL, "https://") {
		return fmt.Errorf("%w: service url must be http(s): %q", ErrInvalidConfig, c.ServiceURL)
	}
	if c.ProbeTimeout > c.OfflineProbeInterval {
		return fmt.Errorf("%w: probe timeout %s exceeds offline probe interval %s",
			ErrInvalidConfig, c.ProbeTimeout, c.OfflineProbeInterval)
	}
	for _, coll := range c.Collections {
		if coll == "" || strings.ContainsAny(coll, "/?#") {
			return fmt.Errorf("%w: bad collection name %q", ErrInvalidConfig, coll)
		}
	}
	return nil
}

// DatabasePath returns the local database file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, sqlite.FileName)
}
