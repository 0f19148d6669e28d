// Package filewatch reopens the active detector file when it changes on
// disk. Acquisitions that are still being written grow their frame count,
// and a file replaced in place gets a fresh reader. Only formats that report
// themselves reloadable are followed.
package filewatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/diffrant/diffrantd/internal/adapters/log"
	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/ports"
)

// Target is the dispatcher surface the plugin drives.
type Target interface {
	Open(path string) (domain.OpenResult, error)
	Current() (string, bool)
}

// Config holds configuration options for the file watcher plugin.
type Config struct {
	// DebounceDelay is the quiet period after the last change before reopening.
	// Default: 500 milliseconds
	DebounceDelay time.Duration

	// RetryInitial is the first delay after a failed reopen.
	// Default: 250 milliseconds
	RetryInitial time.Duration

	// RetryMax caps the delay between reopen attempts.
	// Default: 10 seconds
	RetryMax time.Duration
}

// DefaultConfig returns a Config with the default delays.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 500 * time.Millisecond,
		RetryInitial:  DefaultBackoffInitial,
		RetryMax:      DefaultBackoffMax,
	}
}

// PluginConfig is what the plugin needs from its host at initialization.
type PluginConfig struct {
	Target Target
	Logger ports.Logger
}

// Plugin watches the file behind the active reader.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	retryInitial  time.Duration
	retryMax      time.Duration

	target   Target
	logger   ports.Logger
	path     string
	retarget chan string
	trigger  chan struct{}
	debounce *time.Timer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a file watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 500 * time.Millisecond
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = DefaultBackoffInitial
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = max(DefaultBackoffMax, cfg.RetryInitial)
	}

	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		retryInitial:  cfg.RetryInitial,
		retryMax:      cfg.RetryMax,
		logger:        log.NoopLogger{},
		retarget:      make(chan string, 1),
		trigger:       make(chan struct{}, 1),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "filewatch"
}

// Initialize starts the watcher. Files opened before Initialize are picked
// up when the plugin was already registered as an open hook.
func (p *Plugin) Initialize(ctx context.Context, cfg PluginConfig) error {
	if cfg.Target == nil {
		return errors.New("filewatch: no target")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.target = cfg.Target
	if cfg.Logger != nil {
		p.logger = cfg.Logger
	}
	p.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go p.watchLoop(watchCtx, watcher)
	go p.reloadLoop(watchCtx)

	p.logger.Info("file watcher started", ports.Duration("debounce", p.debounceDelay))
	return nil
}

// Shutdown stops the watcher and waits for pending reloads to give up.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnOpen follows the dispatcher to a newly opened file. It is registered
// as a dispatcher open hook and never blocks. Opening a format that is not
// reloadable stops watching until the next reloadable open.
func (p *Plugin) OnOpen(res domain.OpenResult) {
	var path string
	if res.Reloadable {
		path = filepath.Clean(res.Path)
	}

	p.mu.Lock()
	changed := path != p.path
	p.path = path
	p.mu.Unlock()

	if !changed {
		return
	}
	select {
	case <-p.retarget:
	default:
	}
	select {
	case p.retarget <- path:
	default:
	}
}

// Path returns the file currently watched.
func (p *Plugin) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	var dir string
	for {
		select {
		case <-ctx.Done():
			return

		case path := <-p.retarget:
			if path == "" {
				if dir != "" {
					_ = watcher.Remove(dir)
					dir = ""
				}
				p.logger.Debug("file watcher idle")
				continue
			}
			// Watch the directory so replace-by-rename is seen too.
			next := filepath.Dir(path)
			if next == dir {
				continue
			}
			if dir != "" {
				_ = watcher.Remove(dir)
			}
			if err := watcher.Add(next); err != nil {
				p.logger.Warn("file watcher: cannot watch directory",
					ports.String("dir", next),
					ports.Err(err),
				)
				dir = ""
				continue
			}
			dir = next
			p.logger.Debug("file watcher retargeted", ports.String("path", path))

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.Path() {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("file watcher error", ports.Err(err))
		}
	}
}

func (p *Plugin) scheduleReload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		select {
		case p.trigger <- struct{}{}:
		default:
		}
	})
}

func (p *Plugin) reloadLoop(ctx context.Context) {
	defer p.wg.Done()

	b := newBackoff(p.retryInitial, p.retryMax)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.trigger:
			p.reload(ctx, b)
			b.Reset()
		}
	}
}

// reload reopens the watched file until it succeeds, the target moves on
// to another file, or ctx ends. A failed attempt leaves the current reader
// installed.
func (p *Plugin) reload(ctx context.Context, b *backoff) {
	path := p.Path()
	for attempt := 1; ; attempt++ {
		if cur, ok := p.target.Current(); !ok || filepath.Clean(cur) != path {
			p.logger.Debug("file watcher: target moved on, skipping reload", ports.String("path", path))
			return
		}

		res, err := p.target.Open(path)
		if err == nil {
			p.logger.Info("reloaded file",
				ports.String("path", res.Path),
				ports.Int("frames", res.FrameCount),
				ports.Int("attempt", attempt),
			)
			return
		}

		p.logger.Warn("reload failed, retrying",
			ports.String("path", path),
			ports.String("kind", domain.Kind(err)),
			ports.Duration("delay", b.Current()),
			ports.Err(err),
		)
		if b.Wait(ctx) != nil {
			return
		}
	}
}
