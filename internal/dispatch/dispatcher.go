package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diffrant/diffrantd/internal/adapters/log"
	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/ports"
)

// OpenHook observes every successful open. Hooks run after the swap, in
// registration order, while the open mutex is still held; they must not
// call Open themselves.
type OpenHook func(domain.OpenResult)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithOpenHook registers a hook called after each successful open.
func WithOpenHook(h OpenHook) Option {
	return func(d *Dispatcher) { d.hooks = append(d.hooks, h) }
}

// WithSessionFunc replaces the session id generator.
func WithSessionFunc(fn func() string) Option {
	return func(d *Dispatcher) { d.newSession = fn }
}

// slot is one installed reader and its lease bookkeeping.
type slot struct {
	reader  ports.FrameReader
	path    string
	format  string
	session string

	// guarded by Dispatcher.mu
	leases  int
	retired bool
}

// Dispatcher holds at most one active reader.
type Dispatcher struct {
	reg        registry
	logger     ports.Logger
	hooks      []OpenHook
	newSession func() string

	openMu sync.Mutex

	mu     sync.Mutex
	active *slot
	closed bool
}

// New creates a dispatcher over the given formats.
func New(formats []Format, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:        newRegistry(formats),
		newSession: uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.NoopLogger{}
	}
	return d
}

// Formats returns the registered format names.
func (d *Dispatcher) Formats() []string {
	return d.reg.names()
}

// Open replaces the active reader with one for path. On any failure the
// previously active reader stays installed.
func (d *Dispatcher) Open(path string) (domain.OpenResult, error) {
	d.openMu.Lock()
	defer d.openMu.Unlock()

	start := time.Now()
	format, err := d.reg.resolve(path)
	if err != nil {
		d.logger.Warn("open rejected", ports.String("path", path), ports.Err(err))
		return domain.OpenResult{}, err
	}

	r, err := format.Open(path)
	if err != nil {
		d.logger.Warn("open failed", ports.String("path", path), ports.String("format", format.Name), ports.Err(err))
		return domain.OpenResult{}, err
	}
	if _, err := r.Metadata(); err != nil {
		_ = r.Close()
		d.logger.Warn("metadata failed", ports.String("path", path), ports.String("format", format.Name), ports.Err(err))
		return domain.OpenResult{}, err
	}

	next := &slot{reader: r, path: path, format: format.Name, session: d.newSession()}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = r.Close()
		return domain.OpenResult{}, domain.NewReaderError(domain.ErrClosed, "open", path, nil)
	}
	prev := d.active
	d.active = next
	stale := d.retireLocked(prev)
	d.mu.Unlock()

	d.closeSlot(stale)

	res := domain.OpenResult{
		Path:       path,
		Format:     format.Name,
		Session:    next.session,
		FrameCount: r.FrameCount(),
		Reloadable: format.Reloadable,
	}
	d.logger.Info("file opened",
		ports.String("path", path),
		ports.String("format", format.Name),
		ports.Int("frames", res.FrameCount),
		ports.String("session", res.Session),
		ports.Duration("elapsed", time.Since(start)))

	for _, h := range d.hooks {
		h(res)
	}
	return res, nil
}

// retireLocked marks s replaced and returns it if it can be closed now.
func (d *Dispatcher) retireLocked(s *slot) *slot {
	if s == nil {
		return nil
	}
	s.retired = true
	if s.leases == 0 {
		return s
	}
	return nil
}

func (d *Dispatcher) closeSlot(s *slot) {
	if s == nil {
		return
	}
	if err := s.reader.Close(); err != nil {
		d.logger.Warn("close reader failed", ports.String("path", s.path), ports.Err(err))
		return
	}
	d.logger.Debug("reader closed", ports.String("path", s.path), ports.String("session", s.session))
}

// Acquire leases the active reader. The caller must Release the lease.
func (d *Dispatcher) Acquire() (*Lease, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil, domain.ErrNoFileOpen
	}
	d.active.leases++
	return &Lease{d: d, s: d.active}, nil
}

func (d *Dispatcher) release(s *slot) {
	d.mu.Lock()
	s.leases--
	var stale *slot
	if s.retired && s.leases == 0 {
		stale = s
	}
	d.mu.Unlock()
	d.closeSlot(stale)
}

// Current reports the path of the active reader.
func (d *Dispatcher) Current() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return "", false
	}
	return d.active.path, true
}

// Unload removes the active reader, leaving no file open.
// It reports whether a reader was installed.
func (d *Dispatcher) Unload() bool {
	d.openMu.Lock()
	defer d.openMu.Unlock()
	return d.unload(false)
}

// Close unloads the active reader and rejects further opens.
func (d *Dispatcher) Close() error {
	d.openMu.Lock()
	defer d.openMu.Unlock()
	d.unload(true)
	return nil
}

// unload must be called with openMu held. The slot is detached and the
// closed flag set under one lock so no open can slip in between.
func (d *Dispatcher) unload(closing bool) bool {
	d.mu.Lock()
	prev := d.active
	d.active = nil
	if closing {
		d.closed = true
	}
	stale := d.retireLocked(prev)
	d.mu.Unlock()

	d.closeSlot(stale)
	if prev != nil {
		d.logger.Info("file unloaded", ports.String("path", prev.path))
	}
	return prev != nil
}

// Lease pins one reader open until Release.
type Lease struct {
	d    *Dispatcher
	s    *slot
	once sync.Once
}

// Path returns the file the leased reader serves.
func (l *Lease) Path() string { return l.s.path }

// Session returns the id assigned when the leased reader was opened.
func (l *Lease) Session() string { return l.s.session }

// Metadata returns the reader's metadata stamped with session and format.
func (l *Lease) Metadata() (domain.DetectorMetadata, error) {
	m, err := l.s.reader.Metadata()
	if err != nil {
		return domain.DetectorMetadata{}, err
	}
	m.Session = l.s.session
	if m.Format == "" {
		m.Format = l.s.format
	}
	return m, nil
}

// ReadFrame reads one frame from the leased reader.
func (l *Lease) ReadFrame(index int) (domain.Frame, error) {
	return l.s.reader.ReadFrame(index)
}

// Release ends the lease. Calling it more than once has no effect.
func (l *Lease) Release() {
	l.once.Do(func() { l.d.release(l.s) })
}
