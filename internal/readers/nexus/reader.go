package nexus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/ports"
)

const (
	dataPath      = "entry/data/data"
	splitPattern  = "entry/data/data_%06d"
	maxSplitFiles = 100000

	// Shapes past these limits are treated as corrupt.
	maxFrameSamples = 1 << 28
	maxStackFrames  = 1 << 31
)

// stack is one 3-D frame dataset and the first global frame it holds.
type stack struct {
	path  string
	first int
	count int
}

// Reader serves frames from one NeXus file. It implements ports.FrameReader
// and is safe for concurrent use.
type Reader struct {
	path    string
	c       ports.Container
	logger  ports.Logger
	stacks  []stack
	rows    int
	cols    int
	count   int
	missing []string
	meta    domain.DetectorMetadata

	mu     sync.RWMutex
	closed bool
}

// Open opens path through opener and validates the frame stack layout.
// Geometry is read once here; Metadata returns the stored result.
func Open(path string, opener ports.ContainerOpener, logger ports.Logger) (*Reader, error) {
	c, err := opener(path)
	if err != nil {
		if errors.Is(err, domain.ErrFormat) || errors.Is(err, domain.ErrDependency) {
			return nil, err
		}
		return nil, domain.NewReaderError(domain.ErrFormat, "open", path, err)
	}

	r := &Reader{path: path, c: c, logger: logger}
	if err := r.scan(); err != nil {
		_ = c.Close()
		return nil, err
	}

	r.meta = domain.DetectorMetadata{
		FrameCount: r.count,
		FrameShape: [2]int{r.rows, r.cols},
		ImageDepth: domain.ImageDepth,
		Format:     Name,
	}
	geometryReader{c: c, log: logger}.fill(&r.meta)

	if len(r.missing) > 0 {
		logger.Warn("frame data needs unavailable filters",
			ports.String("path", path),
			ports.String("filters", strings.Join(r.missing, ",")))
	}
	logger.Debug("nexus file opened",
		ports.String("path", path),
		ports.Int("frames", r.count),
		ports.Int("rows", r.rows),
		ports.Int("cols", r.cols),
		ports.Int("datasets", len(r.stacks)))
	return r, nil
}

// scan locates the frame datasets and checks they agree on shape and type.
func (r *Reader) scan() error {
	info, err := r.c.Info(dataPath)
	switch {
	case err == nil:
		return r.addStack(dataPath, info)
	case !errors.Is(err, ports.ErrNotFound):
		return domain.NewReaderError(domain.ErrFormat, "open", r.path, fmt.Errorf("%s: %w", dataPath, err))
	}

	for i := 1; i <= maxSplitFiles; i++ {
		p := fmt.Sprintf(splitPattern, i)
		info, err := r.c.Info(p)
		if errors.Is(err, ports.ErrNotFound) {
			break
		}
		if err != nil {
			return domain.NewReaderError(domain.ErrFormat, "open", r.path, fmt.Errorf("%s: %w", p, err))
		}
		if err := r.addStack(p, info); err != nil {
			return err
		}
	}
	if len(r.stacks) == 0 {
		return domain.Formatf("open", r.path, "no frame dataset at %s or %s", dataPath, fmt.Sprintf(splitPattern, 1))
	}
	return nil
}

func (r *Reader) addStack(p string, info ports.DatasetInfo) error {
	if len(info.Dims) != 3 {
		return domain.Formatf("open", r.path, "%s: expected 3-D dataset, got %d-D", p, len(info.Dims))
	}
	if info.Class != ports.ClassInteger {
		return domain.Formatf("open", r.path, "%s: unsupported sample class (integer required)", p)
	}
	switch info.Size {
	case 1, 2, 4, 8:
	default:
		return domain.Formatf("open", r.path, "%s: unsupported sample size %d", p, info.Size)
	}

	if info.Dims[1] == 0 || info.Dims[2] == 0 {
		return domain.Formatf("open", r.path, "%s: empty frame shape %dx%d", p, info.Dims[1], info.Dims[2])
	}
	if info.Dims[1] > maxFrameSamples || info.Dims[2] > maxFrameSamples/info.Dims[1] {
		return domain.Formatf("open", r.path, "%s: frame shape %dx%d exceeds %d samples", p, info.Dims[1], info.Dims[2], maxFrameSamples)
	}
	if info.Dims[0] > maxStackFrames {
		return domain.Formatf("open", r.path, "%s: %d frames exceeds %d", p, info.Dims[0], maxStackFrames)
	}
	rows, cols := int(info.Dims[1]), int(info.Dims[2])
	if len(r.stacks) == 0 {
		r.rows, r.cols = rows, cols
	} else if rows != r.rows || cols != r.cols {
		return domain.Formatf("open", r.path, "%s: frame shape %dx%d differs from %dx%d", p, rows, cols, r.rows, r.cols)
	}

	n := int(info.Dims[0])
	r.stacks = append(r.stacks, stack{path: p, first: r.count, count: n})
	r.count += n
	for _, f := range info.MissingFilters {
		if !contains(r.missing, f) {
			r.missing = append(r.missing, f)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Metadata returns the metadata computed at open.
func (r *Reader) Metadata() (domain.DetectorMetadata, error) {
	return r.meta, nil
}

// FrameCount returns the total number of frames across all datasets.
func (r *Reader) FrameCount() int {
	return r.count
}

// ReadFrame decodes frame index.
func (r *Reader) ReadFrame(index int) (domain.Frame, error) {
	if index < 0 || index >= r.count {
		return domain.Frame{}, domain.RangeErr(r.path, index, r.count)
	}
	if len(r.missing) > 0 {
		return domain.Frame{}, domain.NewReaderError(domain.ErrDependency, "read frame", r.path,
			fmt.Errorf("filters not available: %s", strings.Join(r.missing, ", ")))
	}

	s := r.locate(index)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return domain.Frame{}, domain.NewReaderError(domain.ErrClosed, "read frame", r.path, nil)
	}

	start := time.Now()
	pixels := make([]uint16, r.rows*r.cols)
	if err := r.c.ReadPlane(s.path, uint64(index-s.first), pixels); err != nil {
		if errors.Is(err, domain.ErrDependency) {
			return domain.Frame{}, err
		}
		return domain.Frame{}, domain.NewReaderError(domain.ErrDecode, "read frame", r.path,
			fmt.Errorf("%s[%d]: %w", s.path, index-s.first, err))
	}
	r.logger.Debug("frame read",
		ports.Int("index", index),
		ports.Duration("elapsed", time.Since(start)))

	return domain.Frame{Index: index, Rows: r.rows, Cols: r.cols, Pixels: pixels}, nil
}

func (r *Reader) locate(index int) stack {
	for _, s := range r.stacks {
		if index < s.first+s.count {
			return s
		}
	}
	return r.stacks[len(r.stacks)-1]
}

// Close releases the container. Further reads fail with ErrClosed.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.c.Close()
}
