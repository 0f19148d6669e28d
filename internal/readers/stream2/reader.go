package stream2

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/diffrant/diffrantd/internal/adapters/log"
	"github.com/diffrant/diffrantd/internal/codec"
	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/pixel"
	"github.com/diffrant/diffrantd/internal/ports"
)

// span locates one image message in the file.
type span struct {
	offset int64
	length int
}

// Option configures a Reader.
type Option func(*Reader)

// WithChannel selects the data channel to serve. The default is the first
// channel announced by the start message.
func WithChannel(name string) Option {
	return func(r *Reader) { r.channel = name }
}

// WithCodecs sets the codec registry used to decompress pixel arrays.
func WithCodecs(reg *codec.Registry) Option {
	return func(r *Reader) { r.codecs = reg }
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// Reader serves frames from one capture file. It implements
// ports.FrameReader and is safe for concurrent use.
type Reader struct {
	path    string
	f       *os.File
	images  []span
	meta    domain.DetectorMetadata
	channel string
	codecs  *codec.Registry
	logger  ports.Logger

	mu     sync.RWMutex
	closed bool
}

// Open indexes the capture at path.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewReaderError(domain.ErrFormat, "open", path, err)
	}
	r := &Reader{path: path, f: f}
	for _, opt := range opts {
		opt(r)
	}
	if r.codecs == nil {
		r.codecs = codec.Default()
	}
	if r.logger == nil {
		r.logger = log.NoopLogger{}
	}

	if err := r.index(); err != nil {
		_ = f.Close()
		return nil, err
	}
	r.logger.Debug("stream2 capture opened",
		ports.String("path", path),
		ports.Int("frames", len(r.images)),
		ports.String("channel", r.channel))
	return r, nil
}

// index walks the message boundaries and parses the start message.
func (r *Reader) index() error {
	dec := decMode.NewDecoder(r.f)
	var (
		start    *startMessage
		consumed int64
	)
	for {
		var raw cbor.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Formatf("open", r.path, "message at byte %d: %v", consumed, err)
		}
		offset := consumed
		consumed = int64(dec.NumBytesRead())

		body := stripSelfDescribe(raw)
		var h header
		if err := decMode.Unmarshal(body, &h); err != nil {
			return domain.Formatf("open", r.path, "message at byte %d: %v", offset, err)
		}

		switch h.Type {
		case typeStart:
			if start != nil {
				return domain.Formatf("open", r.path, "second start message at byte %d", offset)
			}
			start = new(startMessage)
			if err := decMode.Unmarshal(body, start); err != nil {
				return domain.Formatf("open", r.path, "start message: %v", err)
			}
		case typeImage:
			if start == nil {
				return domain.Formatf("open", r.path, "image message at byte %d before start", offset)
			}
			// raw may lack the self-describe tag the decoder consumed.
			r.images = append(r.images, span{offset: offset, length: int(consumed - offset)})
		case typeEnd:
		default:
			r.logger.Debug("skipping message", ports.String("type", h.Type), ports.Int64("offset", offset))
		}
	}

	if start == nil {
		return domain.Formatf("open", r.path, "no start message")
	}
	if start.ImageSizeX == 0 || start.ImageSizeY == 0 {
		return domain.Formatf("open", r.path, "zero image size %dx%d", start.ImageSizeY, start.ImageSizeX)
	}
	if r.channel == "" && len(start.Channels) > 0 {
		r.channel = start.Channels[0]
	}
	if start.NumberOfImages != uint64(len(r.images)) {
		r.logger.Debug("capture holds a partial series",
			ports.Int("images", len(r.images)),
			ports.Int64("announced", int64(start.NumberOfImages)))
	}
	r.meta = metadataFrom(start, len(r.images))
	return nil
}

func metadataFrom(s *startMessage, frames int) domain.DetectorMetadata {
	m := domain.DetectorMetadata{
		FrameCount:      frames,
		FrameShape:      [2]int{int(s.ImageSizeY), int(s.ImageSizeX)},
		PixelSize:       s.PixelSizeX.ptr(1000),
		Distance:        s.DetectorDistance.ptr(1000),
		Wavelength:      s.IncidentWavelength.ptr(1),
		BeamEnergyKeV:   s.IncidentEnergy.ptr(1e-3),
		ImageDepth:      domain.ImageDepth,
		TrustedRangeMax: domain.DefaultTrustedRangeMax,
		Format:          Name,
	}
	if s.BeamCenterX.Set && s.BeamCenterY.Set {
		m.BeamCenter = &[2]float64{s.BeamCenterX.V, s.BeamCenterY.V}
	}
	if s.SaturationValue.Set {
		m.TrustedRangeMax = s.SaturationValue.V
	}
	m.FillBeam()
	return m
}

// Metadata returns the metadata parsed at open.
func (r *Reader) Metadata() (domain.DetectorMetadata, error) {
	return r.meta, nil
}

// FrameCount returns the number of image messages in the capture.
func (r *Reader) FrameCount() int {
	return len(r.images)
}

// ReadFrame reads and decodes image message index.
func (r *Reader) ReadFrame(index int) (domain.Frame, error) {
	if index < 0 || index >= len(r.images) {
		return domain.Frame{}, domain.RangeErr(r.path, index, len(r.images))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return domain.Frame{}, domain.NewReaderError(domain.ErrClosed, "read frame", r.path, nil)
	}

	s := r.images[index]
	buf := make([]byte, s.length)
	if _, err := r.f.ReadAt(buf, s.offset); err != nil {
		return domain.Frame{}, r.decodeErr(index, err)
	}

	var msg imageMessage
	if err := decMode.Unmarshal(stripSelfDescribe(buf), &msg); err != nil {
		return domain.Frame{}, r.decodeErr(index, err)
	}
	raw, err := r.pick(msg.Data)
	if err != nil {
		return domain.Frame{}, r.decodeErr(index, err)
	}
	p, err := parsePayload(raw)
	if err != nil {
		return domain.Frame{}, r.decodeErr(index, err)
	}
	rows, cols := r.meta.Rows(), r.meta.Cols()
	if p.rows != rows || p.cols != cols {
		return domain.Frame{}, r.decodeErr(index, fmt.Errorf("image %dx%d, expected %dx%d", p.rows, p.cols, rows, cols))
	}

	data := p.data
	if p.algorithm != "" {
		data, err = r.codecs.Decode(p.algorithm, p.data, p.elemSize, rows*cols*p.elemSize)
		if err != nil {
			return domain.Frame{}, err
		}
	}
	pixels := make([]uint16, rows*cols)
	if err := pixel.DecodeLE(pixels, data, p.elemSize); err != nil {
		return domain.Frame{}, r.decodeErr(index, err)
	}
	return domain.Frame{Index: index, Rows: rows, Cols: cols, Pixels: pixels}, nil
}

// pick returns the configured channel, or the lexicographically first one.
func (r *Reader) pick(data map[string]cbor.RawMessage) (cbor.RawMessage, error) {
	if r.channel != "" {
		raw, ok := data[r.channel]
		if !ok {
			return nil, fmt.Errorf("channel %q not in image", r.channel)
		}
		return raw, nil
	}
	if len(data) == 0 {
		return nil, errors.New("image carries no data")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return data[keys[0]], nil
}

func (r *Reader) decodeErr(index int, err error) error {
	return domain.NewReaderError(domain.ErrDecode, "read frame", r.path, fmt.Errorf("image %d: %w", index, err))
}

// Close closes the capture file. Further reads fail with ErrClosed.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}
