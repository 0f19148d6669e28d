package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// chunkHeaderSize is the big-endian (uint64 total bytes, uint32 block bytes)
// header shared by the LZ4 and bitshuffle-LZ4 chunk layouts.
const chunkHeaderSize = 12

var errTruncated = errors.New("truncated payload")

type chunkHeader struct {
	total     int
	blockSize int
}

func readChunkHeader(src []byte, want int) (chunkHeader, []byte, error) {
	if len(src) < chunkHeaderSize {
		return chunkHeader{}, nil, errTruncated
	}
	h := chunkHeader{
		total:     int(binary.BigEndian.Uint64(src[0:8])),
		blockSize: int(binary.BigEndian.Uint32(src[8:12])),
	}
	if h.total != want {
		return chunkHeader{}, nil, fmt.Errorf("header declares %d bytes, expected %d", h.total, want)
	}
	if h.blockSize <= 0 && h.total > 0 {
		return chunkHeader{}, nil, fmt.Errorf("invalid block size %d", h.blockSize)
	}
	return h, src[chunkHeaderSize:], nil
}

// nextBlock splits one length-prefixed block off src.
func nextBlock(src []byte) (block, rest []byte, err error) {
	if len(src) < 4 {
		return nil, nil, errTruncated
	}
	n := int(binary.BigEndian.Uint32(src[:4]))
	if n > len(src)-4 {
		return nil, nil, errTruncated
	}
	return src[4 : 4+n], src[4+n:], nil
}

func uncompressExact(block, dst []byte) error {
	n, err := lz4.UncompressBlock(block, dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("lz4 block decoded to %d bytes, expected %d", n, len(dst))
	}
	return nil
}

// LZ4 decodes the HDF5 LZ4 filter chunk layout: a 12-byte header followed by
// length-prefixed LZ4 blocks. A block whose stored length equals its decoded
// length is stored raw.
type LZ4 struct{}

// Name returns "lz4".
func (LZ4) Name() string { return "lz4" }

// Decode implements Codec.
func (LZ4) Decode(src []byte, _ int, want int) ([]byte, error) {
	h, body, err := readChunkHeader(src, want)
	if err != nil {
		return nil, err
	}
	out := make([]byte, h.total)
	for off := 0; off < h.total; off += h.blockSize {
		size := min(h.blockSize, h.total-off)
		var block []byte
		if block, body, err = nextBlock(body); err != nil {
			return nil, err
		}
		if len(block) == size {
			copy(out[off:off+size], block)
			continue
		}
		if err := uncompressExact(block, out[off:off+size]); err != nil {
			return nil, fmt.Errorf("block at %d: %w", off, err)
		}
	}
	return out, nil
}

// BSLZ4 decodes the bitshuffle-LZ4 chunk layout: a 12-byte header, then
// length-prefixed LZ4 blocks of bitshuffled elements, then any trailing
// elements that did not fill a multiple of 8, stored raw.
type BSLZ4 struct{}

// Name returns "bslz4".
func (BSLZ4) Name() string { return "bslz4" }

// Decode implements Codec.
func (BSLZ4) Decode(src []byte, elemSize, want int) ([]byte, error) {
	if elemSize <= 0 {
		return nil, fmt.Errorf("invalid element size %d", elemSize)
	}
	h, body, err := readChunkHeader(src, want)
	if err != nil {
		return nil, err
	}
	if h.total%elemSize != 0 || h.blockSize%elemSize != 0 {
		return nil, fmt.Errorf("sizes %d/%d not multiples of element size %d", h.total, h.blockSize, elemSize)
	}

	n := h.total / elemSize
	blockElems := h.blockSize / elemSize
	if blockElems%blockedMult != 0 {
		return nil, fmt.Errorf("block of %d elements is not a multiple of %d", blockElems, blockedMult)
	}

	out := make([]byte, h.total)
	scratch := make([]byte, blockElems*elemSize)
	done := 0
	for done+blockedMult <= n {
		count := min(blockElems, n-done)
		count -= count % blockedMult

		var block []byte
		if block, body, err = nextBlock(body); err != nil {
			return nil, err
		}
		shuffled := scratch[:count*elemSize]
		if err := uncompressExact(block, shuffled); err != nil {
			return nil, fmt.Errorf("block at element %d: %w", done, err)
		}
		if err := Unshuffle(out[done*elemSize:], shuffled, count, elemSize); err != nil {
			return nil, err
		}
		done += count
	}

	leftover := (n - done) * elemSize
	if len(body) < leftover {
		return nil, errTruncated
	}
	copy(out[done*elemSize:], body[:leftover])
	return out, nil
}
