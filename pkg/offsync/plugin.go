package offsync

import "context"

// Plugin extends a Client with optional behavior. Plugins are initialized
// in registration order on Start and shut down in reverse order on Stop.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

// Tuner changes tunables of a running client.
type Tuner interface {
	SetMaxAttempts(n int)
	SetCacheBudget(bytes int64)
}

// PluginConfig is handed to plugins on Initialize.
type PluginConfig struct {
	DataDir    string
	ServiceURL string
	ClientID   string
	Logger     Logger
	Tuner      Tuner
}
