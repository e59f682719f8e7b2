package configwatcher

import "github.com/maintrack/offsync/pkg/offsync"

// WithConfigWatcher returns an offsync Option that enables config file watching.
//
// Usage:
//
//	c, err := offsync.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.DefaultConfig(path)),
//	)
func WithConfigWatcher(cfg Config) offsync.Option {
	return offsync.WithPlugin(New(cfg))
}
