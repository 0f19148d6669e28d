// Package app wires the dispatcher, the HTTP endpoint, the control channel
// and the file watcher into one process.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diffrant/diffrantd/internal/adapters/hdf5"
	"github.com/diffrant/diffrantd/internal/codec"
	"github.com/diffrant/diffrantd/internal/control"
	"github.com/diffrant/diffrantd/internal/dispatch"
	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/lifecycle"
	"github.com/diffrant/diffrantd/internal/ports"
	"github.com/diffrant/diffrantd/internal/server"
	"github.com/diffrant/diffrantd/plugins/filewatch"
)

// Config contains everything the process needs to run.
type Config struct {
	Listen          string
	PluginDir       string
	MaxDecodes      int
	ShutdownTimeout time.Duration
	Channel         string
	Watch           bool
	WatchDebounce   time.Duration
	Control         bool
	OpenPath        string
}

// Option customizes an App.
type Option func(*App)

// WithContainerOpener replaces the HDF5 library as the NeXus backend.
func WithContainerOpener(o ports.ContainerOpener) Option {
	return func(a *App) { a.opener = o }
}

// WithStdio sets the streams the control channel uses.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.stdin, a.stdout = in, out }
}

// errControlClosed ends the run when the shell closes stdin.
var errControlClosed = errors.New("control channel closed")

// App is the running process.
type App struct {
	cfg    Config
	logger ports.Logger
	opener ports.ContainerOpener
	stdin  io.Reader
	stdout io.Writer

	dispatcher *dispatch.Dispatcher
	server     *server.Server
	watcher    *filewatch.Plugin
}

// New builds the dispatcher and server. Nothing binds or opens until Run.
func New(cfg Config, logger ports.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		opener: hdf5.Open,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.PluginDir != "" {
		if err := hdf5.SetPluginPath(cfg.PluginDir); err != nil {
			return nil, err
		}
	}

	dopts := []dispatch.Option{dispatch.WithLogger(logger)}
	if cfg.Watch {
		a.watcher = filewatch.New(filewatch.Config{DebounceDelay: cfg.WatchDebounce})
		dopts = append(dopts, dispatch.WithOpenHook(a.watcher.OnOpen))
	}

	formats := Formats(a.opener, cfg.Channel, codec.Default(), logger)
	a.dispatcher = dispatch.New(formats, dopts...)
	a.server = server.New(server.Config{
		Listen:          cfg.Listen,
		MaxDecodes:      cfg.MaxDecodes,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, a.dispatcher, logger, a)

	return a, nil
}

// Dispatcher returns the reader dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Port returns the HTTP endpoint's bound port, or 0 before Run.
func (a *App) Port() int { return a.server.Port() }

// OnStateChange implements lifecycle.Observer.
func (a *App) OnStateChange(component string, previous, current lifecycle.State, reason string) {
	a.logger.Info("component state changed",
		ports.String("component", component),
		ports.String("from", previous.String()),
		ports.String("to", current.String()),
		ports.String("reason", reason),
	)
}

// Run serves until ctx is done or, with the control channel enabled, until
// the shell closes stdin. The active reader is closed before returning.
func (a *App) Run(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("formats registered",
		ports.String("formats", strings.Join(a.dispatcher.Formats(), ",")))
	defer func() {
		if err := a.dispatcher.Close(); err != nil {
			a.logger.Warn("closing active reader", ports.Err(err))
		}
	}()

	if a.cfg.OpenPath != "" {
		if _, err := a.dispatcher.Open(a.cfg.OpenPath); err != nil {
			a.logger.Error("initial open failed",
				ports.String("path", a.cfg.OpenPath),
				ports.String("kind", domain.Kind(err)),
				ports.Err(err),
			)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.watcher != nil {
		if err := a.watcher.Initialize(gctx, filewatch.PluginConfig{
			Target: a.dispatcher,
			Logger: a.logger,
		}); err != nil {
			a.logger.Warn("file watching disabled", ports.Err(err))
			a.watcher = nil
		}
	}

	g.Go(func() error {
		return a.server.Wait(gctx)
	})

	if a.cfg.Control {
		ctrl := control.New(a.dispatcher, a.server.Port, a.logger)
		g.Go(func() error {
			if err := ctrl.Run(gctx, a.stdin, a.stdout); err != nil {
				return err
			}
			if gctx.Err() != nil {
				return nil
			}
			return errControlClosed
		})
	}

	err := g.Wait()

	if a.watcher != nil {
		sctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		if werr := a.watcher.Shutdown(sctx); werr != nil {
			a.logger.Warn("file watcher shutdown", ports.Err(werr))
		}
		cancel()
	}

	if errors.Is(err, errControlClosed) {
		return nil
	}
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return lifecycle.DefaultShutdownTimeout
}
