package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/diffrant/diffrantd/internal/dispatch"
	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/lifecycle"
	"github.com/diffrant/diffrantd/internal/ports"
)

// DefaultListen binds an ephemeral loopback port.
const DefaultListen = "127.0.0.1:0"

// Source hands out leases on the active reader.
type Source interface {
	Acquire() (*dispatch.Lease, error)
}

// Config holds endpoint settings.
type Config struct {
	// Listen is the TCP address to bind.
	Listen string
	// MaxDecodes bounds concurrent frame decodes. Zero means runtime.NumCPU.
	MaxDecodes int
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MaxDecodes <= 0 {
		c.MaxDecodes = runtime.NumCPU()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = lifecycle.DefaultShutdownTimeout
	}
	return c
}

// Server serves frames from a Source.
type Server struct {
	cfg     Config
	src     Source
	logger  ports.Logger
	decodes *semaphore.Weighted
	lc      *lifecycle.Lifecycle

	http *http.Server
	port atomic.Int32
	errc chan error
}

// New creates a server. It does not bind until Start.
func New(cfg Config, src Source, logger ports.Logger, observer lifecycle.Observer) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:     cfg,
		src:     src,
		logger:  logger,
		decodes: semaphore.NewWeighted(int64(cfg.MaxDecodes)),
		lc:      lifecycle.New("server", logger, observer),
		errc:    make(chan error, 1),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metadata", s.handleMetadata)
	mux.HandleFunc("GET /image/{index}", s.handleImage)
	return recoverer(s.logger, logging(s.logger, cors(mux)))
}

// State returns the lifecycle state.
func (s *Server) State() lifecycle.State { return s.lc.State() }

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int { return int(s.port.Load()) }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.lc.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := s.lc.TransitionTo(lifecycle.StateStarting, "start requested"); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		_ = s.lc.TransitionTo(lifecycle.StateCrashed, err.Error())
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	s.port.Store(int32(ln.Addr().(*net.TCPAddr).Port))

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.lc.SetCancel(cancel)
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	s.lc.Go(func() {
		err := s.http.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		s.logger.Error("server stopped unexpectedly", ports.Err(err))
		_ = s.lc.TransitionTo(lifecycle.StateCrashed, err.Error())
		s.errc <- err
	})

	if err := s.lc.TransitionTo(lifecycle.StateRunning, "listening"); err != nil {
		return err
	}
	s.logger.Info("server listening",
		ports.String("addr", ln.Addr().String()),
		ports.Int("max_decodes", s.cfg.MaxDecodes))
	return nil
}

// Wait blocks until ctx is done or the server fails, then shuts down.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-s.errc:
		return err
	}
}

// Stop shuts down gracefully, waiting up to the configured timeout for
// in-flight requests.
func (s *Server) Stop() error {
	if !s.lc.CanStop() {
		return nil
	}
	if err := s.lc.TransitionTo(lifecycle.StateStopping, "stop requested"); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := s.http.Shutdown(ctx)
	s.lc.Cancel()

	if err := s.lc.WaitWithTimeout(s.cfg.ShutdownTimeout); err != nil {
		_ = s.lc.TransitionTo(lifecycle.StateCrashed, "shutdown timeout")
		return err
	}
	if shutdownErr != nil {
		_ = s.http.Close()
		_ = s.lc.TransitionTo(lifecycle.StateCrashed, shutdownErr.Error())
		return fmt.Errorf("%w: %v", domain.ErrShutdownTimeout, shutdownErr)
	}
	return s.lc.TransitionTo(lifecycle.StateStopped, "shutdown complete")
}
