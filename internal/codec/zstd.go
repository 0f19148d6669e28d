package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd decodes a single Zstandard frame. The underlying decoder is shared;
// DecodeAll is safe for concurrent use.
type Zstd struct {
	dec *zstd.Decoder
	err error
}

// NewZstd creates a Zstd codec with a stateless shared decoder.
func NewZstd() *Zstd {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	return &Zstd{dec: dec, err: err}
}

// Name returns "zstd".
func (*Zstd) Name() string { return "zstd" }

// Decode implements Codec.
func (z *Zstd) Decode(src []byte, _ int, want int) ([]byte, error) {
	if z.err != nil {
		return nil, z.err
	}
	out, err := z.dec.DecodeAll(src, make([]byte, 0, want))
	if err != nil {
		return nil, err
	}
	if len(out) != want {
		return nil, fmt.Errorf("zstd frame decoded to %d bytes, expected %d", len(out), want)
	}
	return out, nil
}
