package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/diffrant/diffrantd/internal/adapters/log"
	"github.com/diffrant/diffrantd/internal/app"
	"github.com/diffrant/diffrantd/internal/cliconfig"
)

const helpDescription = `
Serve detector frames from HDF5/NeXus masters and stream-v2 captures to a
local viewer.

Highlights:
  - One active file at a time; opening a new one swaps it atomically.
  - GET /metadata and GET /image/{index} on a loopback port.
  - Control requests (open, port, current, close) as length-prefixed
    msgpack frames on stdin/stdout. Closing stdin stops the process.
  - Compressed datasets need the matching HDF5 filter plugins; point
    --plugin-dir at them.
`

var exampleUsage = strings.TrimSpace(`
  diffrantd --open /data/lyso_1_master.h5 --no-control
  diffrantd --listen 127.0.0.1:8765 --plugin-dir /opt/hdf5/plugins --watch
  diffrantd --config $HOME/.diffrant/config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var noControl bool

	// Stdout carries control frames; logs go to stderr.
	log := logAdapter.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	root := &cobra.Command{
		Use:           "diffrantd [file]",
		Short:         "Serve diffraction detector frames over a local HTTP endpoint",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Args:          cobra.MaximumNArgs(1),
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["no-control"] {
				cfg.Control = !noControl
				changed["control"] = true
			}

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// DIFFRANT_* override the file but not explicit flags.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if len(args) > 0 && !changed["open"] {
				cfg.OpenPath = args[0]
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			log = log.Level(logAdapter.ParseLevel(cfg.LogLevel))
			log.Info().Interface("config", cfg).Msg("configuration")

			a, err := app.New(app.Config{
				Listen:          cfg.Listen,
				PluginDir:       cfg.PluginDir,
				MaxDecodes:      cfg.MaxDecodes,
				ShutdownTimeout: cfg.ShutdownTimeout,
				Channel:         cfg.Channel,
				Watch:           cfg.Watch,
				WatchDebounce:   cfg.WatchDebounce,
				Control:         cfg.Control,
				OpenPath:        cfg.OpenPath,
			}, logAdapter.NewZerologAdapterWithLogger(log))
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			log.Info().Msg("stopped")
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.diffrant/config.toml)")
	root.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "loopback address for the HTTP endpoint (port 0 picks a free one)")
	root.Flags().StringVar(&cfg.PluginDir, "plugin-dir", cfg.PluginDir, "directory holding HDF5 filter plugins")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	root.Flags().IntVar(&cfg.MaxDecodes, "max-decodes", cfg.MaxDecodes, "concurrent frame decodes (0 = number of CPUs)")
	root.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for in-flight requests on shutdown")
	root.Flags().StringVar(&cfg.Channel, "channel", cfg.Channel, "stream-v2 channel to serve (default: first announced)")
	root.Flags().BoolVar(&cfg.Watch, "watch", cfg.Watch, "reopen the active file when it changes on disk")
	root.Flags().DurationVar(&cfg.WatchDebounce, "watch-debounce", cfg.WatchDebounce, "quiet period before reopening a changed file")
	root.Flags().BoolVar(&cfg.Control, "control", cfg.Control, "serve control requests on stdin/stdout")
	root.Flags().BoolVar(&noControl, "no-control", false, "disable the control channel; run until signalled")
	root.Flags().StringVar(&cfg.OpenPath, "open", cfg.OpenPath, "file to open at startup")
	if err := root.Flags().MarkHidden("control"); err != nil {
		log.Info().Err(err).Msg("failed to hide control flag")
	}

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("diffrantd")
		os.Exit(1)
	}
}
