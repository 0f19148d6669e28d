package stream2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diffrant/diffrantd/internal/codec/codectest"
	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/readers/stream2/stream2test"
)

func writeCapture(t *testing.T, c *stream2test.Capture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.cbor")
	require.NoError(t, os.WriteFile(path, c.Bytes(), 0o644))
	return path
}

func frame(rows, cols, k int) []uint16 {
	px := make([]uint16, rows*cols)
	for i := range px {
		px[i] = uint16(k*1000 + i)
	}
	return px
}

func leBytes(px []uint16) []byte {
	b := make([]byte, 0, 2*len(px))
	for _, v := range px {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

func TestOpen_MetadataAndFrames(t *testing.T) {
	const rows, cols = 6, 8
	start := stream2test.StartFields(rows, cols, 3)
	start["pixel_size_x"] = 75e-6
	start["detector_distance"] = 0.12
	start["beam_center_x"] = 3.5
	start["beam_center_y"] = 2
	start["incident_energy"] = 12398.419843
	start["saturation_value"] = 30000

	c := new(stream2test.Capture).Start(start)
	for k := 0; k < 3; k++ {
		c.Image(k, map[string]any{"threshold_1": stream2test.Uint16(rows, cols, frame(rows, cols, k))})
	}
	c.End()

	r, err := Open(writeCapture(t, c))
	require.NoError(t, err)
	defer r.Close()

	meta, err := r.Metadata()
	require.NoError(t, err)
	require.Equal(t, 3, meta.FrameCount)
	require.Equal(t, [2]int{rows, cols}, meta.FrameShape)
	require.InDelta(t, 0.075, *meta.PixelSize, 1e-12)
	require.InDelta(t, 120.0, *meta.Distance, 1e-9)
	require.Equal(t, [2]float64{3.5, 2}, *meta.BeamCenter)
	require.InDelta(t, 12.398419843, *meta.BeamEnergyKeV, 1e-9)
	require.InDelta(t, 1.0, *meta.Wavelength, 1e-9)
	require.Equal(t, 30000.0, meta.TrustedRangeMax)
	require.Equal(t, Name, meta.Format)

	for k := 0; k < 3; k++ {
		f, err := r.ReadFrame(k)
		require.NoError(t, err)
		require.Equal(t, frame(rows, cols, k), f.Pixels)
	}

	_, err = r.ReadFrame(3)
	require.ErrorIs(t, err, domain.ErrRange)
	_, err = r.ReadFrame(-1)
	require.ErrorIs(t, err, domain.ErrRange)
}

func TestReadFrame_Codecs(t *testing.T) {
	const rows, cols = 16, 20
	px := frame(rows, cols, 2)
	raw := leBytes(px)

	tests := []struct {
		name string
		arr  any
	}{
		{"bslz4", stream2test.Compressed(rows, cols, 2, "bslz4", codectest.BSLZ4(raw, 2, 64))},
		{"lz4", stream2test.Compressed(rows, cols, 2, "lz4", codectest.LZ4(raw, 128))},
		{"zstd", stream2test.Compressed(rows, cols, 2, "zstd", codectest.Zstd(raw))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := new(stream2test.Capture).
				Start(stream2test.StartFields(rows, cols, 1)).
				Image(0, map[string]any{"threshold_1": tt.arr})
			r, err := Open(writeCapture(t, c))
			require.NoError(t, err)
			defer r.Close()

			f, err := r.ReadFrame(0)
			require.NoError(t, err)
			require.Equal(t, px, f.Pixels)
		})
	}
}

func TestReadFrame_Uint32Sentinels(t *testing.T) {
	c := new(stream2test.Capture).
		Start(stream2test.StartFields(1, 4, 1)).
		Image(0, map[string]any{"threshold_1": stream2test.Uint32(1, 4, []uint32{0xFFFFFFFF, 0xFFFFFFFE, 7, 65536})})
	r, err := Open(writeCapture(t, c))
	require.NoError(t, err)
	defer r.Close()

	f, err := r.ReadFrame(0)
	require.NoError(t, err)
	require.Equal(t, []uint16{0xFFFF, 0xFFFE, 7, 0}, f.Pixels)
}

func TestReadFrame_UnknownCodec(t *testing.T) {
	c := new(stream2test.Capture).
		Start(stream2test.StartFields(2, 2, 1)).
		Image(0, map[string]any{"threshold_1": stream2test.Compressed(2, 2, 2, "blosc2", []byte{1, 2, 3})})
	r, err := Open(writeCapture(t, c))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Metadata()
	require.NoError(t, err)
	_, err = r.ReadFrame(0)
	require.ErrorIs(t, err, domain.ErrDependency)
}

func TestReadFrame_CorruptPayload(t *testing.T) {
	c := new(stream2test.Capture).
		Start(stream2test.StartFields(2, 4, 1)).
		Image(0, map[string]any{"threshold_1": stream2test.Compressed(2, 4, 2, "zstd", []byte("garbage"))})
	r, err := Open(writeCapture(t, c))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadFrame(0)
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestChannelSelection(t *testing.T) {
	a := frame(1, 2, 1)
	b := frame(1, 2, 2)
	data := map[string]any{
		"threshold_1": stream2test.Uint16(1, 2, a),
		"threshold_2": stream2test.Uint16(1, 2, b),
	}

	start := stream2test.StartFields(1, 2, 1)
	c := new(stream2test.Capture).Start(start).Image(0, data)
	path := writeCapture(t, c)

	r, err := Open(path, WithChannel("threshold_2"))
	require.NoError(t, err)
	f, err := r.ReadFrame(0)
	require.NoError(t, err)
	require.Equal(t, b, f.Pixels)
	require.NoError(t, r.Close())

	delete(start, "channels")
	c = new(stream2test.Capture).Start(start).Image(0, data)
	r, err = Open(writeCapture(t, c))
	require.NoError(t, err)
	defer r.Close()
	f, err = r.ReadFrame(0)
	require.NoError(t, err)
	require.Equal(t, a, f.Pixels)
}

func TestOpen_BareMessages(t *testing.T) {
	c := &stream2test.Capture{Bare: true}
	c.Start(stream2test.StartFields(1, 2, 1)).Image(0, map[string]any{"threshold_1": stream2test.Uint16(1, 2, []uint16{9, 8})})

	r, err := Open(writeCapture(t, c))
	require.NoError(t, err)
	defer r.Close()
	f, err := r.ReadFrame(0)
	require.NoError(t, err)
	require.Equal(t, []uint16{9, 8}, f.Pixels)
}

func TestOpen_SpansCoverWholeMessages(t *testing.T) {
	const rows, cols = 2, 2
	c := new(stream2test.Capture).Start(stream2test.StartFields(rows, cols, 3))
	c.Image(0, map[string]any{"threshold_1": stream2test.Uint16(rows, cols, frame(rows, cols, 0))})
	c.Bare = true
	c.Image(1, map[string]any{"threshold_1": stream2test.Uint16(rows, cols, frame(rows, cols, 1))})
	c.Bare = false
	c.Image(2, map[string]any{"threshold_1": stream2test.Uint16(rows, cols, frame(rows, cols, 2))})
	size := len(c.Bytes())

	r, err := Open(writeCapture(t, c))
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.images, 3)
	for i := 0; i < len(r.images)-1; i++ {
		require.Equal(t, r.images[i+1].offset, r.images[i].offset+int64(r.images[i].length), "span %d", i)
	}
	last := r.images[len(r.images)-1]
	require.Equal(t, int64(size), last.offset+int64(last.length))

	for k := 0; k < 3; k++ {
		f, err := r.ReadFrame(k)
		require.NoError(t, err)
		require.Equal(t, frame(rows, cols, k), f.Pixels)
	}
}

func TestOpen_FormatErrors(t *testing.T) {
	img := map[string]any{"threshold_1": stream2test.Uint16(1, 1, []uint16{1})}

	tests := []struct {
		name    string
		capture *stream2test.Capture
	}{
		{"empty file", new(stream2test.Capture)},
		{"no start", new(stream2test.Capture).Image(0, img)},
		{"image before start", new(stream2test.Capture).Image(0, img).Start(stream2test.StartFields(1, 1, 1))},
		{"two starts", new(stream2test.Capture).Start(stream2test.StartFields(1, 1, 0)).Start(stream2test.StartFields(1, 1, 0))},
		{"zero size", new(stream2test.Capture).Start(stream2test.StartFields(0, 4, 0))},
		{"truncated", new(stream2test.Capture).Start(stream2test.StartFields(1, 1, 1)).Raw([]byte{0xa2, 0x64})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(writeCapture(t, tt.capture))
			if !errors.Is(err, domain.ErrFormat) {
				t.Errorf("Open() error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestReadFrame_ConcurrentAndAfterClose(t *testing.T) {
	const rows, cols, n = 4, 4, 12
	c := new(stream2test.Capture).Start(stream2test.StartFields(rows, cols, n))
	for k := 0; k < n; k++ {
		c.Image(k, map[string]any{"threshold_1": stream2test.Uint16(rows, cols, frame(rows, cols, k))})
	}
	r, err := Open(writeCapture(t, c))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			f, err := r.ReadFrame(k)
			if err != nil {
				t.Errorf("ReadFrame(%d) error = %v", k, err)
				return
			}
			if !bytes.Equal(leBytes(f.Pixels), leBytes(frame(rows, cols, k))) {
				t.Errorf("ReadFrame(%d) returned another frame's pixels", k)
			}
		}(k)
	}
	wg.Wait()

	require.NoError(t, r.Close())
	_, err = r.ReadFrame(0)
	require.ErrorIs(t, err, domain.ErrClosed)
}

func TestSniff(t *testing.T) {
	if !Sniff(bytes.NewReader([]byte{0xd9, 0xd9, 0xf7, 0xa1})) {
		t.Error("Sniff() = false for self-described CBOR")
	}
	if Sniff(bytes.NewReader([]byte("\x89HDF\r\n\x1a\n"))) {
		t.Error("Sniff() = true for HDF5")
	}
}
