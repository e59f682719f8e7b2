package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/maintrack/offsync/internal/adapters/localapi"
	logAdapter "github.com/maintrack/offsync/internal/adapters/log"
	"github.com/maintrack/offsync/internal/cliconfig"
	"github.com/maintrack/offsync/pkg/offsync"
	"github.com/maintrack/offsync/plugins/configwatcher"
)

const longHelp = `Keep field work going without a network.

offsync queues edits made offline in a durable local store, caches the
pages technicians look at, and replays everything in order once the
maintenance system is reachable again. Conflicts are settled
last-writer-wins; edits the server refuses land in a dead-letter list
for manual review.

Configuration is read from ~/.offsync/config.toml, then OFFSYNC_*
environment variables, then flags.`

var exampleUsage = strings.TrimSpace(`
  offsync run --service-url https://cmms.example.com --auth-token <token> --collections work_order,asset
  offsync status
  offsync dead-letters list
  offsync reset --yes
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries state shared by all commands.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	log     zerolog.Logger
	closer  io.Closer
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig(), log: zerolog.New(os.Stderr)}

	root := &cobra.Command{
		Use:               "offsync",
		Short:             "Offline-first sync client for the maintenance system",
		Long:              longHelp,
		Example:           exampleUsage,
		Version:           fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.closer != nil {
				_ = c.closer.Close()
			}
		},
	}
	c.bindFlags(root.PersistentFlags())

	root.AddCommand(
		c.runCmd(),
		c.syncCmd(),
		c.statusCmd(),
		c.enqueueCmd(),
		c.deadLettersCmd(),
		c.discardsCmd(),
		c.cacheCmd(),
		c.resetCmd(),
	)

	if err := root.Execute(); err != nil {
		c.log.Error().Err(err).Msg("offsync")
		os.Exit(1)
	}
}

func (c *cli) bindFlags(fs *pflag.FlagSet) {
	cfg := &c.cfg
	fs.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.offsync/config.toml)")
	fs.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "base URL of the maintenance system")
	fs.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "bearer token for the maintenance system")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding the local database")

	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "reachability probe timeout")
	fs.DurationVar(&cfg.OnlineProbeInterval, "online-probe-interval", cfg.OnlineProbeInterval, "probe interval while online")
	fs.DurationVar(&cfg.OfflineProbeInterval, "offline-probe-interval", cfg.OfflineProbeInterval, "probe interval while offline or degraded")
	fs.DurationVar(&cfg.SlowProbeThreshold, "slow-probe-threshold", cfg.SlowProbeThreshold, "probe latency that counts as degraded")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "period of the background sync")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "timeout of a push or pull request")

	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "failed sends before an edit is dead-lettered")
	fs.Int64Var(&cfg.CacheBudgetBytes, "cache-budget", cfg.CacheBudgetBytes, "page cache budget in bytes")
	fs.StringVar(&cfg.EvictionSchedule, "eviction-schedule", cfg.EvictionSchedule, "cron schedule of cache eviction")
	fs.StringSliceVar(&cfg.Collections, "collections", cfg.Collections, "collections to pull")
	fs.IntVar(&cfg.PullLimit, "pull-limit", cfg.PullLimit, "changes per pull request")

	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "local API address (empty disables it)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write JSON logs to this rotated file")
}

// load resolves configuration: flags > env > file > defaults.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}
	c.cfgPath = cfgFile

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := cliconfig.Logger(c.cfg.LogLevel, c.cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	c.log, c.closer = log, closer

	return cliconfig.LoadClientID(&c.cfg)
}

// open creates a client over the configured data directory.
func (c *cli) open(opts ...offsync.Option) (*offsync.Client, error) {
	adapter := logAdapter.NewZerologAdapterWithLogger(c.log)
	opts = append([]offsync.Option{offsync.WithLogger(adapter)}, opts...)
	client, err := offsync.New(c.cfg.ClientConfig(getVersion()), opts...)
	if errors.Is(err, offsync.ErrStoreCorrupted) {
		return nil, fmt.Errorf("%w (run `offsync reset` to start over; queued edits will be lost)", err)
	}
	return client, err
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync client until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.log.Info().Interface("config", c.cfg.Masked()).Msg("configuration")

			client, err := c.open(configwatcher.WithConfigWatcher(configwatcher.DefaultConfig(c.cfgPath)))
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.Start(ctx); err != nil {
				return fmt.Errorf("start client: %w", err)
			}

			var api *localapi.Server
			if c.cfg.ListenAddr != "" {
				api = localapi.NewServer(c.cfg.ListenAddr, client, logAdapter.NewZerologAdapterWithLogger(c.log))
				if err := api.Start(ctx); err != nil {
					_ = client.Stop()
					return err
				}
			}

			crashed := make(chan struct{})
			go func() {
				ticker := time.NewTicker(500 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if client.Status() == offsync.StateCrashed {
							close(crashed)
							return
						}
					}
				}
			}()

			select {
			case <-ctx.Done():
				c.log.Info().Msg("received signal, stopping...")
			case <-crashed:
				c.log.Error().Err(client.Err()).Msg("client crashed")
			}

			if api != nil {
				if err := api.Stop(); err != nil {
					c.log.Warn().Err(err).Msg("local api shutdown")
				}
			}
			if err := client.Stop(); err != nil && !errors.Is(err, offsync.ErrNotRunning) {
				return fmt.Errorf("stop client: %w", err)
			}
			if cause := client.Err(); cause != nil {
				return fmt.Errorf("client crashed: %w", cause)
			}
			return nil
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one probe, push and pull cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.open()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := client.SyncOnce(ctx); err != nil {
				return err
			}
			stats, err := client.Stats(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(client.Connectivity(), client.Phase(), stats))
			return nil
		},
	}
}
